package storage

import (
	"errors"
	"fmt"
	"time"
)

// Config for storage backends
type Config struct {
	Type string // "memory" or "postgres"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config; an empty URL disables the L2 query cache
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Query cache config
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int // entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "postgres",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL:         5 * time.Minute,
		L1CacheSize:      1024,
	}
}

// Validate checks the config is usable for its backend type.
func (c Config) Validate() error {
	switch c.Type {
	case "memory":
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
	if c.PostgresURL == "" {
		return errors.New("postgres url is required")
	}
	if c.PostgresMaxConns < 1 {
		return errors.New("postgres max connections must be at least 1")
	}
	if c.PostgresMinConns > c.PostgresMaxConns {
		return errors.New("postgres min connections cannot exceed max connections")
	}
	if c.CacheEnabled && c.CacheTTL <= 0 {
		return errors.New("cache ttl must be positive when the cache is enabled")
	}
	return nil
}
