package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/aggregator"
	"github.com/clickrank/clickrank/internal/config"
	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/rpc"
	"github.com/clickrank/clickrank/internal/session"
	"github.com/clickrank/clickrank/internal/store"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	shardsFlag := flag.String("shards", "0", "comma-separated shard ids this instance owns")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	shardIDs, err := parseShardIDs(*shardsFlag)
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid -shards flag")
	}

	st, err := store.Open(cfg.DatabaseDSN, zlog.With().Str("component", "store").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open store")
	}
	if err := st.Migrate(); err != nil {
		zlog.Fatal().Err(err).Msg("failed to migrate store")
	}

	cache := hotcache.New(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	}, cfg.RedisPrefix)

	sessMgr := session.New(st, zlog.With().Str("component", "session_manager").Logger(), cfg.ReconnectWindow(), cfg.SessionIdle())

	svc := aggregator.New(st, cache, sessMgr, zlog, cfg.NShards, shardIDs, cfg.FlushInterval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Run(ctx)

	conn, err := rpc.Dial(cfg.NatsAddress, zlog.With().Str("component", "rpc").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to dial nats")
	}
	defer conn.Close()

	rpcSrv := rpc.NewServer(conn.Conn(), zlog)
	if err := svc.RegisterGlobal(rpcSrv); err != nil {
		zlog.Fatal().Err(err).Msg("failed to register global aggregator handlers")
	}
	for _, id := range shardIDs {
		if err := svc.Register(rpcSrv, id); err != nil {
			zlog.Fatal().Err(err).Int("shard", id).Msg("failed to register shard handlers")
		}
	}

	zlog.Info().Ints("shards", shardIDs).Msg("aggregator ready")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	zlog.Info().Msg("shutting down aggregator")
	_ = rpcSrv.Shutdown()
}

func parseShardIDs(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid shard id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
