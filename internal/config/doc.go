// Package config provides 12-factor configuration management for weft.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Relay: relay HTTP server settings (port, host)
//   - Cache: local update cache settings (database path)
//   - Channel: sync channel client settings (relay URL, reconnect backoff)
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Relay running on %s:%s\n", cfg.Relay.Host, cfg.Relay.Port)
//
// Environment Variables:
//   - RELAY_PORT, RELAY_HOST, CACHE_PATH
//   - CHANNEL_URL, CHANNEL_BACKOFF_MIN_MS, CHANNEL_BACKOFF_MAX_MS
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
