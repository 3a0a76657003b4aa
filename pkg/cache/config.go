package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the rule-lookup cache.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, every event
	// evaluation reads rules straight from the database.
	Enabled bool

	// TTL bounds staleness for cached rule sets. Writes invalidate
	// eagerly on the same replica; the TTL covers peer replicas.
	TTL time.Duration

	// MaxSize is the maximum number of (tenant, trigger) entries.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled: true,
		TTL:     30 * time.Second,
		MaxSize: 1000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - RULE_CACHE_ENABLED: "true" or "false" (default: "true")
//   - RULE_CACHE_TTL: duration in seconds (default: 30)
//   - RULE_CACHE_MAX_SIZE: max entries (default: 1000)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("RULE_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("RULE_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("RULE_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}

// New creates an LRUCache from the configuration, or nil when disabled.
// A nil *LRUCache is safe to pass around; lookups on it always miss.
func New(cfg *CacheConfig) *LRUCache {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return NewLRUCache(cfg.MaxSize, cfg.TTL)
}
