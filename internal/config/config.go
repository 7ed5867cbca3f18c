// Package config loads runtime settings from a .env file, the environment and
// an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// RateConfig is a token bucket of Requests per Window.
type RateConfig struct {
	Requests int
	Window   time.Duration
}

// Config holds every setting the server reads at startup.
type Config struct {
	Port            string
	DatabaseURL     string
	StoreDriver     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	HistoryCacheTTL time.Duration
	PersistTimeout  time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ShutdownTimeout time.Duration
	SendBuffer      int
	MaxMessageSize  int64
	MessageRate     RateConfig
	IPRate          RateConfig
	AllowedOrigins  []string
	LogLevel        string
	LogPretty       bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("redis_db", 0)
	v.SetDefault("history_cache_ttl", 30*time.Second)
	v.SetDefault("persist_timeout", 5*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("max_message_size", 4096)
	v.SetDefault("message_rate_requests", 30)
	v.SetDefault("message_rate_window", time.Minute)
	v.SetDefault("ip_rate_requests", 60)
	v.SetDefault("ip_rate_window", time.Minute)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Load reads dir/.env (a missing file is not an error), then dir/config.yaml
// if present, with environment variables taking precedence.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = "."
	}

	// Existing environment variables are never overridden by .env.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Port:            v.GetString("port"),
		DatabaseURL:     v.GetString("db_url"),
		StoreDriver:     strings.ToLower(v.GetString("store_driver")),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		HistoryCacheTTL: v.GetDuration("history_cache_ttl"),
		PersistTimeout:  v.GetDuration("persist_timeout"),
		WriteTimeout:    v.GetDuration("write_timeout"),
		PingInterval:    v.GetDuration("ping_interval"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		SendBuffer:      v.GetInt("send_buffer"),
		MaxMessageSize:  v.GetInt64("max_message_size"),
		MessageRate: RateConfig{
			Requests: v.GetInt("message_rate_requests"),
			Window:   v.GetDuration("message_rate_window"),
		},
		IPRate: RateConfig{
			Requests: v.GetInt("ip_rate_requests"),
			Window:   v.GetDuration("ip_rate_window"),
		},
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		LogLevel:       v.GetString("log_level"),
		LogPretty:      v.GetBool("log_pretty"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DB_URL environment variable is not set")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	if c.PersistTimeout <= 0 {
		return errors.New("PERSIST_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	if c.MessageRate.Requests <= 0 || c.MessageRate.Window <= 0 {
		return errors.New("MESSAGE_RATE_REQUESTS and MESSAGE_RATE_WINDOW must be positive")
	}
	if c.IPRate.Requests <= 0 || c.IPRate.Window <= 0 {
		return errors.New("IP_RATE_REQUESTS and IP_RATE_WINDOW must be positive")
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
