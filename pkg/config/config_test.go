package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8081", cfg.Backend.BaseURL)
	assert.Equal(t, 8, cfg.Discovery.MaxConcurrentFetches)
	assert.Equal(t, "en", cfg.Discovery.Locale)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 100, cfg.Analytics.BatchSize)
	assert.Equal(t, time.Minute, cfg.Analytics.SnapshotInterval)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
backend:
  baseUrl: http://notes.internal:9000
  requestTimeout: 2s
discovery:
  maxConcurrentFetches: 3
redis:
  enabled: true
  cacheTTL: 1m
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://notes.internal:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Backend.RequestTimeout)
	assert.Equal(t, 3, cfg.Discovery.MaxConcurrentFetches)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ND_BACKEND_URL", "http://env-backend:8000/")
	t.Setenv("ND_REDIS_ADDR", "cache:6379")
	t.Setenv("ND_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ND_TRACING_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://env-backend:8000", cfg.Backend.BaseURL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadRejectsInvalidFanOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  maxConcurrentFetches: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
