package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// Every replica runs AutoMigrate at startup; the migration lock makes
// sure only one of them alters the schema at a time.
const (
	lockAcquireAttempts = 30
	lockRetryInterval   = time.Second
	staleHolderAge      = 5 * time.Minute
)

// migrationLockID keys the PostgreSQL advisory lock. Derived from the
// module name so it never collides with application-level advisory locks.
var migrationLockID = int64(crc32.ChecksumIEEE([]byte("backbone.migrations")))

// MigrationLocker serializes schema migrations across replicas.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock, blocking until
	// the lock is acquired and releasing it when fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks the locking strategy for the dialect:
// a session advisory lock on PostgreSQL, an insert-or-fail lock row
// elsewhere (SQLite). A nil db gets a pass-through lock.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return passthroughLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryLock{db: db}
	}
	// Create the lock table up front so concurrent first callers never
	// race on "no such table".
	_ = db.AutoMigrate(&migrationLockRow{})
	return &rowLock{db: db}
}

type passthroughLock struct{}

func (passthroughLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db *gorm.DB
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", migrationLockID).Error; err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID).Error
	}()
	return fn()
}

// migrationLockRow is the single row backing the non-PostgreSQL lock.
// Its presence means the lock is held; locked_at drives stale takeover
// after a holder crashes without releasing.
type migrationLockRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRow) TableName() string { return "migration_lock" }

type rowLock struct {
	db *gorm.DB
}

func (l *rowLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}

	acquire := func() error {
		// Evict a holder that died mid-migration.
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", "migration", time.Now().Add(-staleHolderAge)).
			Delete(&migrationLockRow{})

		return l.db.WithContext(ctx).Create(&migrationLockRow{
			ID:       "migration",
			LockedAt: time.Now(),
			LockedBy: holder,
		}).Error
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(lockRetryInterval), lockAcquireAttempts), ctx)
	if err := backoff.Retry(acquire, policy); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}

	defer func() {
		l.db.Where("id = ?", "migration").Delete(&migrationLockRow{})
	}()
	return fn()
}
