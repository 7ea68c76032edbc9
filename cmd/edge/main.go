package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/config"
	"github.com/clickrank/clickrank/internal/edge"
	"github.com/clickrank/clickrank/internal/hotcache"
)

// zlog is the process-wide base logger.
var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	cache := hotcache.New(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	}, cfg.RedisPrefix)

	hub, err := edge.NewHub(edge.Config{
		NShards:         cfg.NShards,
		ScorePush:       cfg.ScorePush(),
		LeaderboardPush: cfg.LeaderboardPush(),
		IdleMultiple:    2,
		RPCDeadline:     2 * time.Second,
		MaxBatch:        cfg.MaxBatch,
	}, cfg.NatsAddress, cache, zlog.With().Str("component", "edge_hub").Logger(), cfg.PoolSize)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to start edge hub")
	}
	defer hub.Close()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: hub}
	go func() {
		zlog.Info().Str("addr", cfg.ListenAddr).Msg("edge listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("edge http server failed")
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	zlog.Info().Msg("shutting down edge")
	_ = srv.Close()
}
