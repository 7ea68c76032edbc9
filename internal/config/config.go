// Package config decodes process configuration from a JSON file plus
// environment overrides for secrets, reading REDIS_PASSWORD from a mounted
// file rather than requiring it inline in the config or environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Config holds every recognized process option across Edge, Aggregator,
// and Ranker.
type Config struct {
	// Shared
	NatsAddress  string `json:"nats_address"`
	RedisAddress string `json:"redis_address"`
	RedisPrefix  string `json:"redis_prefix"`
	NShards      int    `json:"n_shards"`

	// Secrets, overridable by environment (never stored in the file).
	RedisPassword string `json:"-"`
	DatabaseDSN   string `json:"-"`

	// Aggregator
	FlushIntervalMS int `json:"flush_interval_ms"`
	SessionIdleMS   int `json:"session_idle_ms"`
	ReconnectWinMS  int `json:"reconnect_window_ms"`

	// Ranker
	RankRefreshMS int `json:"rank_refresh_ms"`

	// Edge
	ScorePushMS       int    `json:"score_push_ms"`
	LeaderboardPushMS int    `json:"leaderboard_push_ms"`
	MaxBatch          int    `json:"max_batch"`
	PoolSize          int    `json:"pool_size"`
	ListenAddr        string `json:"listen_addr"`
}

// Defaults returns the baseline configuration seeded before a config file
// or environment overrides are applied.
func Defaults() Config {
	return Config{
		NatsAddress:       "127.0.0.1:4222",
		RedisAddress:      "127.0.0.1:6379",
		RedisPrefix:       "clickrank",
		NShards:           3,
		FlushIntervalMS:   1000,
		SessionIdleMS:     90000,
		ReconnectWinMS:    60000,
		RankRefreshMS:     500,
		ScorePushMS:       500,
		LeaderboardPushMS: 5000,
		MaxBatch:          100,
		PoolSize:          50,
		ListenAddr:        ":8080",
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides for secrets: REDIS_PASSWORD, AGGREGATOR_DB_DSN,
// and NATS_ADDRESS.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if pass, err := os.ReadFile("REDIS_PASSWORD"); err == nil {
		cfg.RedisPassword = strings.TrimSpace(string(pass))
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AGGREGATOR_DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("NATS_ADDRESS"); v != "" {
		cfg.NatsAddress = v
	}

	return cfg, nil
}

func (c Config) FlushInterval() time.Duration { return time.Duration(c.FlushIntervalMS) * time.Millisecond }
func (c Config) SessionIdle() time.Duration   { return time.Duration(c.SessionIdleMS) * time.Millisecond }
func (c Config) ReconnectWindow() time.Duration {
	return time.Duration(c.ReconnectWinMS) * time.Millisecond
}
func (c Config) RankRefresh() time.Duration     { return time.Duration(c.RankRefreshMS) * time.Millisecond }
func (c Config) ScorePush() time.Duration       { return time.Duration(c.ScorePushMS) * time.Millisecond }
func (c Config) LeaderboardPush() time.Duration { return time.Duration(c.LeaderboardPushMS) * time.Millisecond }
