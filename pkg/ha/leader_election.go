package ha

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// leaseRecord is the lease row contended for by replicas.
type leaseRecord struct {
	Name      string    `gorm:"primaryKey;column:name"`
	Holder    string    `gorm:"column:holder"`
	RenewedAt time.Time `gorm:"column:renewed_at"`
}

func (leaseRecord) TableName() string { return "leader_leases" }

// LeaderElector manages database-lease leader election for singleton
// background loops. Only the elected leader replica runs loops such as
// the rule scheduler and queue retention.
type LeaderElector struct {
	config   *HAConfig
	db       *gorm.DB
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *slog.Logger
	onStart  func(ctx context.Context)
	onStop   func()
}

// NewLeaderElector creates a new LeaderElector. The identity should be
// unique per replica (typically the pod name or hostname).
func NewLeaderElector(cfg *HAConfig, db *gorm.DB, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	_ = db.AutoMigrate(&leaseRecord{})
	return &LeaderElector{
		config:   cfg,
		db:       db,
		identity: identity,
		logger:   logger,
	}
}

// OnStartLeading registers a callback invoked when this instance becomes
// leader. The provided context is cancelled when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when this instance loses
// leadership.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// Run starts leader election. It blocks until the context is cancelled.
// When this instance becomes leader, it calls the OnStartLeading
// callback; when leadership is lost, OnStopLeading.
func (le *LeaderElector) Run(ctx context.Context) {
	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"leaseDuration", le.config.LeaseDuration,
		"renewPeriod", le.config.RenewPeriod,
		"retryPeriod", le.config.RetryPeriod,
	)

	var leaderCtx context.Context
	var cancelLeader context.CancelFunc

	stopLeading := func() {
		le.mu.Lock()
		wasLeader := le.isLeader
		le.isLeader = false
		le.mu.Unlock()
		if !wasLeader {
			return
		}
		if cancelLeader != nil {
			cancelLeader()
		}
		le.logger.Info("lost leadership", "identity", le.identity)
		if le.onStop != nil {
			le.onStop()
		}
	}
	defer stopLeading()

	for {
		period := le.config.RetryPeriod
		if le.IsLeader() {
			period = le.config.RenewPeriod
		}

		select {
		case <-ctx.Done():
			le.release()
			return
		case <-time.After(period):
		}

		held, err := le.tryAcquireOrRenew(ctx)
		if err != nil {
			le.logger.Error("lease operation failed", "error", err)
			continue
		}

		switch {
		case held && !le.IsLeader():
			le.mu.Lock()
			le.isLeader = true
			le.mu.Unlock()
			le.logger.Info("elected as leader", "identity", le.identity)
			if le.onStart != nil {
				leaderCtx, cancelLeader = context.WithCancel(ctx)
				go le.onStart(leaderCtx)
			}
		case !held && le.IsLeader():
			stopLeading()
		}
	}
}

// tryAcquireOrRenew attempts to take or refresh the lease. Returns true
// when this instance holds the lease afterwards.
func (le *LeaderElector) tryAcquireOrRenew(ctx context.Context) (bool, error) {
	now := time.Now()
	expired := now.Add(-le.config.LeaseDuration)

	// Renew our own lease, or take over an expired one.
	result := le.db.WithContext(ctx).Model(&leaseRecord{}).
		Where("name = ? AND (holder = ? OR renewed_at < ?)", le.config.LeaseName, le.identity, expired).
		Updates(map[string]any{"holder": le.identity, "renewed_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// No row matched: either the lease is held by a live leader, or it
	// does not exist yet. Try the insert; a unique violation means a
	// live leader.
	err := le.db.WithContext(ctx).Create(&leaseRecord{
		Name:      le.config.LeaseName,
		Holder:    le.identity,
		RenewedAt: now,
	}).Error
	if err != nil {
		return false, nil
	}
	return true, nil
}

// release gives the lease up on clean shutdown so a peer takes over
// without waiting out the lease duration.
func (le *LeaderElector) release() {
	if !le.IsLeader() {
		return
	}
	le.db.Where("name = ? AND holder = ?", le.config.LeaseName, le.identity).
		Delete(&leaseRecord{})
}
