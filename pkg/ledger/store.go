package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrLedgerContention indicates another append to the same tenant's chain
// holds the tail lock. The caller fails fast instead of queueing on the
// row; it may retry within a bounded budget.
var ErrLedgerContention = errors.New("ledger_contention")

// Store persists audit records. Appends are serialized per tenant by a
// non-blocking exclusive lock on the chain tail.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_records table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Record{})
}

// Append writes the next record in the tenant's chain. The draft carries
// everything except ID, Sequence, PreviousHash and Hash, which are
// assigned here. The tail lock uses FOR UPDATE NOWAIT on PostgreSQL;
// SQLite serializes writers on its own, so the plain query suffices there.
func (s *Store) Append(ctx context.Context, draft *Record) (*Record, error) {
	if draft.TenantID == "" {
		return nil, fmt.Errorf("append audit record: tenant id required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tail, err := s.lockTail(tx, draft.TenantID)
		if err != nil {
			return err
		}

		if tail == nil {
			draft.Sequence = 1
			draft.PreviousHash = ZeroHash
		} else {
			draft.Sequence = tail.Sequence + 1
			draft.PreviousHash = tail.Hash
		}
		draft.ID = uuid.New().String()

		hash, err := ComputeHash(draft)
		if err != nil {
			return err
		}
		draft.Hash = hash

		if err := tx.Create(draft).Error; err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// lockTail takes a non-blocking exclusive lock on the tenant's tail record
// and returns it, or nil for an empty chain.
func (s *Store) lockTail(tx *gorm.DB, tenantID string) (*Record, error) {
	var tail Record

	if tx.Dialector.Name() == "postgres" {
		result := tx.Raw(`
			SELECT * FROM audit_records
			WHERE tenant_id = ?
			ORDER BY sequence DESC
			LIMIT 1
			FOR UPDATE NOWAIT
		`, tenantID).Scan(&tail)
		if result.Error != nil {
			if isLockNotAvailable(result.Error) {
				return nil, ErrLedgerContention
			}
			return nil, fmt.Errorf("lock chain tail: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, nil
		}
		return &tail, nil
	}

	err := tx.Where("tenant_id = ?", tenantID).
		Order("sequence DESC").
		Limit(1).
		First(&tail).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chain tail: %w", err)
	}
	return &tail, nil
}

// isLockNotAvailable matches PostgreSQL's 55P03 lock_not_available error
// raised by NOWAIT.
func isLockNotAvailable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "55P03") || strings.Contains(msg, "could not obtain lock")
}

// Tail returns the newest record for a tenant, or nil for an empty chain.
func (s *Store) Tail(ctx context.Context, tenantID string) (*Record, error) {
	var tail Record
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence DESC").
		Limit(1).
		First(&tail).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chain tail: %w", err)
	}
	return &tail, nil
}

// Range returns records for a tenant in ascending sequence order starting
// at startSeq, at most limit records.
func (s *Store) Range(ctx context.Context, tenantID string, startSeq int64, limit int) ([]Record, error) {
	if startSeq < 1 {
		startSeq = 1
	}
	if limit <= 0 {
		limit = 100
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence >= ?", tenantID, startSeq).
		Order("sequence ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("range audit records: %w", err)
	}
	return records, nil
}

// Get returns one record by tenant and sequence, or nil.
func (s *Store) Get(ctx context.Context, tenantID string, seq int64) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence = ?", tenantID, seq).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return &rec, nil
}

// Count returns the tenant's total chain length.
func (s *Store) Count(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("tenant_id = ?", tenantID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}
