// Package ha provides high-availability primitives for running the
// backbone daemon with multiple replicas: migration locking and
// database-lease leader election for singleton loops (the rule
// scheduler, queue cleanup).
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled controls whether lease-based leader election
	// is active. When false, the instance behaves as the sole leader
	// (suitable for single-replica deployments).
	LeaderElectionEnabled bool

	// LeaseName names the lease row used for leader election.
	LeaseName string

	// LeaseDuration is how long a lease holds before other candidates
	// may take it over.
	LeaseDuration time.Duration

	// RenewPeriod is how often the leader refreshes its lease. Must be
	// shorter than LeaseDuration.
	RenewPeriod time.Duration

	// RetryPeriod is the duration between acquisition attempts by
	// non-leaders.
	RetryPeriod time.Duration

	// MigrationLockEnabled controls whether database migration locking
	// is used to prevent concurrent schema changes.
	MigrationLockEnabled bool

	// Identity is the unique identity of this instance for leader
	// election. Defaults to POD_NAME or the hostname.
	Identity string
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	return &HAConfig{
		LeaderElectionEnabled: false,
		LeaseName:             "backbone-leader",
		LeaseDuration:         15 * time.Second,
		RenewPeriod:           5 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              defaultIdentity(),
	}
}

// HAConfigFromEnv reads HA configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - LEADER_ELECTION_ENABLED: "true" or "false" (default: "false")
//   - LEADER_LEASE_NAME: lease row name (default: "backbone-leader")
//   - LEADER_LEASE_DURATION: seconds (default: 15)
//   - LEADER_RENEW_PERIOD: seconds (default: 5)
//   - LEADER_RETRY_PERIOD: seconds (default: 2)
//   - MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - POD_NAME: instance identity for leader election
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()

	if v := os.Getenv("LEADER_ELECTION_ENABLED"); v != "" {
		cfg.LeaderElectionEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("LEADER_LEASE_DURATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LeaseDuration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("LEADER_RENEW_PERIOD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RenewPeriod = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("LEADER_RETRY_PERIOD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RetryPeriod = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("POD_NAME"); v != "" {
		cfg.Identity = v
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
