package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlaserp/backbone/pkg/rules"
)

// Store provides database operations for action jobs.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the action tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&ActionJob{}, &ActionLog{})
}

// EnqueueAction implements rules.ActionEnqueuer.
func (s *Store) EnqueueAction(ctx context.Context, kind, ruleID, tenantID string, config, eventContext map[string]any) error {
	_, err := s.Enqueue(ctx, &ActionJob{
		TenantID: tenantID,
		RuleID:   ruleID,
		Kind:     kind,
		Config:   rules.JSONMap(config),
		Context:  rules.JSONMap(eventContext),
	})
	return err
}

// Enqueue creates a new queued job. If idempotencyKey is non-empty and a
// non-terminal job with the same key exists, the existing job is returned
// instead of creating a duplicate. Safe for concurrent use.
func (s *Store) Enqueue(ctx context.Context, job *ActionJob) (*ActionJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}

	if job.IdempotencyKey == "" {
		if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, fmt.Errorf("enqueue action: %w", err)
		}
		return job, nil
	}

	var result *ActionJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ActionJob
		err := tx.Where("idempotency_key = ? AND state IN ?", job.IdempotencyKey,
			[]JobState{JobStateQueued, JobStateRunning}).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Free the unique index from terminal jobs holding the same key.
		tx.Model(&ActionJob{}).
			Where("idempotency_key = ? AND state IN ?", job.IdempotencyKey,
				[]JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}).
			Update("idempotency_key", "")

		if err := tx.Create(job).Error; err != nil {
			var raceExisting ActionJob
			lookupErr := s.db.Where("idempotency_key = ? AND state IN ?", job.IdempotencyKey,
				[]JobState{JobStateQueued, JobStateRunning}).First(&raceExisting).Error
			if lookupErr == nil {
				result = &raceExisting
				return nil
			}
			return fmt.Errorf("enqueue action: %w", err)
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Claim atomically picks a queued job and transitions it to running.
// Uses FOR UPDATE SKIP LOCKED where supported (PostgreSQL); falls back to
// a plain SELECT elsewhere. Returns nil if no jobs are available.
func (s *Store) Claim(maxRetries int) (*ActionJob, error) {
	var job ActionJob

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			result := tx.Raw(`
				SELECT * FROM action_jobs
				WHERE state = ? AND attempt_count <= ?
				ORDER BY requested_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			`, JobStateQueued, maxRetries).Scan(&job)
			if result.Error != nil {
				return result.Error
			}
		} else {
			err := tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
				Order("requested_at ASC").
				Limit(1).
				First(&job).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
		}

		if job.ID == "" {
			return nil
		}

		now := time.Now()
		return tx.Model(&ActionJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim action job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}

	if err := s.db.First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// Complete marks a job as succeeded.
func (s *Store) Complete(jobID string, durationMs int64) error {
	now := time.Now()
	err := s.db.Model(&ActionJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":       JobStateSucceeded,
		"finished_at": now,
		"duration_ms": durationMs,
	}).Error
	if err != nil {
		return fmt.Errorf("complete action job: %w", err)
	}
	return nil
}

// Fail marks a job as failed. If the attempt count is within maxRetries,
// it re-queues the job for retry; otherwise it records an ActionLog row.
func (s *Store) Fail(jobID string, errMsg string, maxRetries int) error {
	var job ActionJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load job for fail: %w", err)
	}

	now := time.Now()
	updates := map[string]any{"last_error": errMsg}

	if job.AttemptCount < maxRetries {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
	} else {
		updates["state"] = JobStateFailed
		updates["finished_at"] = now
		log := &ActionLog{
			ID:      uuid.New().String(),
			RuleID:  job.RuleID,
			Kind:    job.Kind,
			Outcome: "failed",
			Detail:  errMsg,
			At:      now,
		}
		if err := s.db.Create(log).Error; err != nil {
			return fmt.Errorf("record action log: %w", err)
		}
	}

	if err := s.db.Model(&ActionJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("fail action job: %w", err)
	}
	return nil
}

// CleanupStuckJobs transitions running jobs whose started_at is older
// than claimTimeout back to queued for retry.
func (s *Store) CleanupStuckJobs(claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	result := s.db.Model(&ActionJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
		Updates(map[string]any{
			"state":      JobStateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck job recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal jobs older than the given cutoff.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("state IN ? AND finished_at < ?",
		[]JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}, cutoff).
		Delete(&ActionJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Logs returns recent action logs for a rule, newest first.
func (s *Store) Logs(ctx context.Context, ruleID string, limit int) ([]ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ActionLog
	err := s.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	return out, nil
}
