package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Relay     RelayConfig
	Cache     CacheConfig
	Channel   ChannelConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// RelayConfig holds relay HTTP server configuration.
type RelayConfig struct {
	Port string `envconfig:"RELAY_PORT" default:"9800"`
	Host string `envconfig:"RELAY_HOST" default:"0.0.0.0"`
}

// CacheConfig holds the local update cache configuration. An empty path
// selects the per-user, per-scope default under the weft data directory.
type CacheConfig struct {
	Path string `envconfig:"CACHE_PATH" default:""`
}

// ChannelConfig holds sync channel client configuration.
type ChannelConfig struct {
	URL              string `envconfig:"CHANNEL_URL" default:"ws://localhost:9800"`
	MinBackoffMillis int    `envconfig:"CHANNEL_BACKOFF_MIN_MS" default:"500"`
	MaxBackoffMillis int    `envconfig:"CHANNEL_BACKOFF_MAX_MS" default:"30000"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Port: "9800",
			Host: "0.0.0.0",
		},
		Cache: CacheConfig{
			Path: "",
		},
		Channel: ChannelConfig{
			URL:              "ws://localhost:9800",
			MinBackoffMillis: 500,
			MaxBackoffMillis: 30000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
