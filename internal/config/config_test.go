package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "/api/messages/send", cfg.Cache.MessageSendPath)
	assert.Contains(t, cfg.Cache.Precache, "/offline")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8181"
upstream:
  base_url: http://app.internal:3000
  timeout: 5s
queue:
  max_retries: 5
`), 0o600))

	t.Setenv("EDGE_QUEUE__MAX_RETRIES", "4")
	t.Setenv("EDGE_LOG__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "http://app.internal:3000", cfg.Upstream.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 4, cfg.Queue.MaxRetries, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "9090", cfg.Server.MetricsPort, "defaults survive")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Storage.Driver = "redis" },
			errMsg: "Driver",
		},
		{
			name:   "postgres without url",
			mutate: func(c *Config) { c.Storage.Driver = DriverPostgres },
			errMsg: "database.url",
		},
		{
			name:   "zero retries",
			mutate: func(c *Config) { c.Queue.MaxRetries = 0 },
			errMsg: "MaxRetries",
		},
		{
			name:   "send path outside api prefix",
			mutate: func(c *Config) { c.Cache.MessageSendPath = "/send" },
			errMsg: "outside api_prefix",
		},
		{
			name:   "relative precache entry",
			mutate: func(c *Config) { c.Cache.Precache = []string{"offline"} },
			errMsg: "Precache",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCacheVersion(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "v1.2.3", cfg.CacheVersion("1.2.3"))

	cfg.Cache.Version = "v7"
	assert.Equal(t, "v7", cfg.CacheVersion("1.2.3"))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "queue.max_retries", envKey("EDGE_QUEUE__MAX_RETRIES"))
	assert.Equal(t, "log.level", envKey("EDGE_LOG__LEVEL"))
}
