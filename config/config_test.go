package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secshare/secshare/internal/models"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
transfers:
  reaper_interval: 10s
  max_password_attempts: 3
tiers:
  free:
    max_size_bytes: 1048576
    max_transfers: 2
    window: 1h
    expiry: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Transfers.ReaperInterval)
	assert.Equal(t, 3, cfg.Transfers.MaxPasswordAttempts)
	assert.Equal(t, int64(1048576), cfg.Tiers.Free.MaxSizeBytes)
	assert.Equal(t, 2, cfg.Tiers.Free.MaxTransfers)
	// untouched sections keep their defaults
	assert.Equal(t, 20, cfg.Tiers.Premium.MaxTransfers)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STORE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REAPER_INTERVAL", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Transfers.ReaperInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad store type", func(c *Config) { c.Store.Type = "postgres" }},
		{"redis without addr", func(c *Config) { c.Store.Type = "redis"; c.Store.Redis.Addr = "" }},
		{"bad blob type", func(c *Config) { c.Blob.Type = "s3" }},
		{"fs blob without dir", func(c *Config) { c.Blob.Dir = "" }},
		{"zero reaper interval", func(c *Config) { c.Transfers.ReaperInterval = 0 }},
		{"zero password attempts", func(c *Config) { c.Transfers.MaxPasswordAttempts = 0 }},
		{"zero tier size", func(c *Config) { c.Tiers.Free.MaxSizeBytes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTierPolicy(t *testing.T) {
	policy, err := Default().TierPolicy()
	require.NoError(t, err)

	free, err := policy.Lookup(models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(50*1024*1024), free.MaxContentSize)
	assert.Equal(t, 15*time.Minute, free.Expiry)
}
