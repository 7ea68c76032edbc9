package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/config"
	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/ranker"
	"github.com/clickrank/clickrank/internal/rpc"
	"github.com/clickrank/clickrank/internal/store"
	"github.com/clickrank/clickrank/internal/wire"
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
	clusterID := flag.String("nats-cluster", "clickrank-ranker", "NATS Streaming cluster id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
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

	nc, err := nats.Connect(cfg.NatsAddress)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()

	sc, err := stan.Connect(*clusterID, "ranker", stan.NatsConn(nc))
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to nats streaming")
	}
	defer sc.Close()

	rk := ranker.New(st, cache, sc, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rk.Run(ctx, cfg.RankRefresh())

	conn, err := rpc.Dial(cfg.NatsAddress, zlog.With().Str("component", "rpc").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to dial nats for rpc")
	}
	defer conn.Close()

	rpcSrv := rpc.NewServer(conn.Conn(), zlog)
	if err := rpcSrv.Handle(wire.SubjectGetRank, func(data []byte) (interface{}, error) {
		var req wire.GetRankRequest
		if err := wire.DecodeRPC(data, &req); err != nil {
			return nil, err
		}
		rank, total, err := rk.GetRank(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		return wire.GetRankResponse{Rank: rank, Total: total}, nil
	}); err != nil {
		zlog.Fatal().Err(err).Msg("failed to register get_rank")
	}
	if err := rpcSrv.Handle(wire.SubjectGetTopK, func(data []byte) (interface{}, error) {
		var req wire.GetTopKRequest
		if err := wire.DecodeRPC(data, &req); err != nil {
			return nil, err
		}
		entries, version, err := rk.GetTopK(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		return wire.GetTopKResponse{Entries: entries, Version: version}, nil
	}); err != nil {
		zlog.Fatal().Err(err).Msg("failed to register get_topk")
	}

	zlog.Info().Dur("refresh_interval", cfg.RankRefresh()).Msg("ranker ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	zlog.Info().Msg("shutting down ranker")
	_ = rpcSrv.Shutdown()
}
