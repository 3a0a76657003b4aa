package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides database operations for saga records, steps and the
// projection tables.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the saga and projection tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Record{}, &Step{},
		&StockLevel{}, &JournalEntry{},
		&LoyaltyBalance{}, &DailyAggregate{}, &ProductDailyCount{},
	)
}

// DB exposes the underlying handle to projections sharing this store.
func (s *Store) DB() *gorm.DB { return s.db }

// EnsureRecord creates a pending saga record for the correlation id,
// or returns the existing one. Redelivered start events find the
// existing record.
func (s *Store) EnsureRecord(ctx context.Context, tenantID, correlationID, kind string) (*Record, error) {
	var existing Record
	err := s.db.WithContext(ctx).
		First(&existing, "correlation_id = ? AND kind = ?", correlationID, kind).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup saga record: %w", err)
	}

	rec := &Record{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Kind:          kind,
		State:         StatePending,
		StartedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		// Concurrent creation: re-read the winner.
		var raced Record
		if lookupErr := s.db.WithContext(ctx).
			First(&raced, "correlation_id = ? AND kind = ?", correlationID, kind).Error; lookupErr == nil {
			return &raced, nil
		}
		return nil, fmt.Errorf("create saga record: %w", err)
	}
	return rec, nil
}

// SetState transitions a record. Terminal states are sticky: the update
// is guarded so a record already in a terminal state keeps it.
func (s *Store) SetState(ctx context.Context, correlationID, kind string, state State, note string) error {
	updates := map[string]any{"state": state}
	if note != "" {
		updates["note"] = note
	}
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("correlation_id = ? AND kind = ? AND state NOT IN ?",
			correlationID, kind,
			[]State{StateSucceeded, StateFailed, StateCompensated}).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("set saga state: %w", err)
	}
	return nil
}

// GetRecord returns one saga record.
func (s *Store) GetRecord(ctx context.Context, correlationID, kind string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		First(&rec, "correlation_id = ? AND kind = ?", correlationID, kind).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get saga record: %w", err)
	}
	return &rec, nil
}

// ListRecords returns the tenant's saga records, newest first.
func (s *Store) ListRecords(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Record
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list saga records: %w", err)
	}
	return out, nil
}

// MarkStep records that a step ran for the correlation id. Returns false
// when the step was already recorded, which tells the caller to skip its
// side effects. MUST be called inside the same transaction as those side
// effects; see StepOnce.
func markStep(tx *gorm.DB, correlationID, stepName, outcome string) (bool, error) {
	step := &Step{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		StepName:      stepName,
		Outcome:       outcome,
		At:            time.Now().UTC(),
	}
	if err := tx.Create(step).Error; err != nil {
		var existing Step
		if lookupErr := tx.First(&existing,
			"correlation_id = ? AND step_name = ?", correlationID, stepName).Error; lookupErr == nil {
			return false, nil
		}
		return false, fmt.Errorf("mark saga step: %w", err)
	}
	return true, nil
}

// StepOnce runs fn in a transaction guarded by the (correlation_id,
// step_name) unique index. If the step already ran, fn is skipped and
// StepOnce returns false. If fn fails, the step mark rolls back with it,
// so a later redelivery retries the whole step.
func (s *Store) StepOnce(ctx context.Context, correlationID, stepName string, fn func(tx *gorm.DB) error) (bool, error) {
	ran := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		first, err := markStep(tx, correlationID, stepName, "done")
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		ran = true
		return fn(tx)
	})
	if err != nil {
		return false, err
	}
	return ran, nil
}
