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
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, RateConfig{Requests: 30, Window: time.Minute}, cfg.MessageRate)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_URL", "postgres://chat@localhost/chat")
	t.Setenv("PERSIST_TIMEOUT", "250ms")
	t.Setenv("ALLOWED_ORIGINS", "example.com, *.example.org ,")
	t.Setenv("MESSAGE_RATE_REQUESTS", "5")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.PersistTimeout)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.MessageRate.Requests)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadDotEnvAndYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("store_driver: memory\nsend_buffer: 8\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 8, cfg.SendBuffer)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:    DriverMemory,
			PersistTimeout: time.Second,
			SendBuffer:     1,
			MessageRate:    RateConfig{1, time.Second},
			IPRate:         RateConfig{1, time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid_memory", func(*Config) {}, false},
		{"postgres_without_url", func(c *Config) { c.StoreDriver = DriverPostgres }, true},
		{"postgres_with_url", func(c *Config) {
			c.StoreDriver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/chat"
		}, false},
		{"unknown_driver", func(c *Config) { c.StoreDriver = "sqlite" }, true},
		{"zero_timeout", func(c *Config) { c.PersistTimeout = 0 }, true},
		{"zero_buffer", func(c *Config) { c.SendBuffer = 0 }, true},
		{"zero_rate", func(c *Config) { c.MessageRate.Requests = 0 }, true},
		{"zero_ip_window", func(c *Config) { c.IPRate.Window = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
