package storage

import (
	"context"
	"time"
)

// Cache is a string key-value store with per-entry expiry
type Cache interface {
	// Get returns the value for key. A miss is ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key for ttl. A zero ttl uses the cache default.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
}

// Config for storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheTTL       time.Duration
	L1CacheEntries int
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 5,
		PostgresTimeout:  30 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheTTL:         time.Hour,
		L1CacheEntries:   10000,
	}
}

// NewCache returns a RedisCache when cfg.RedisURL is set and a MemoryCache
// otherwise.
func NewCache(cfg Config) (Cache, error) {
	if cfg.RedisURL != "" {
		return NewRedisCache(cfg)
	}
	return NewMemoryCache(cfg.L1CacheEntries, cfg.CacheTTL), nil
}
