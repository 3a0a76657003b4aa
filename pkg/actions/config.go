package actions

import (
	"os"
	"strconv"
	"time"
)

// Config controls the action worker pool.
type Config struct {
	Enabled       bool
	Concurrency   int
	PollInterval  time.Duration
	MaxRetries    int
	ClaimTimeout  time.Duration
	RetentionDays int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		Concurrency:   4,
		PollInterval:  2 * time.Second,
		MaxRetries:    3,
		ClaimTimeout:  5 * time.Minute,
		RetentionDays: 30,
	}
}

// ConfigFromEnv loads config from environment variables:
// ACTIONS_ENABLED, ACTIONS_CONCURRENCY, ACTIONS_POLL_INTERVAL_SECONDS,
// ACTIONS_MAX_RETRIES, ACTIONS_RETENTION_DAYS.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("ACTIONS_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("ACTIONS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("ACTIONS_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("ACTIONS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ACTIONS_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}
	return cfg
}
