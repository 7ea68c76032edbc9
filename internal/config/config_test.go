package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.NShards)
	require.Equal(t, 1000*time.Millisecond, cfg.FlushInterval())
	require.Equal(t, 500*time.Millisecond, cfg.ScorePush())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"n_shards": 8, "max_batch": 50}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.NShards)
	require.Equal(t, 50, cfg.MaxBatch)
	require.Equal(t, 90000, cfg.SessionIdleMS)
}

func TestLoad_EnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv("NATS_ADDRESS", "nats.internal:4222")
	t.Setenv("AGGREGATOR_DB_DSN", "postgres://test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "nats.internal:4222", cfg.NatsAddress)
	require.Equal(t, "postgres://test", cfg.DatabaseDSN)
}
