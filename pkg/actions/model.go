// Package actions executes typed rule/workflow actions through a durable
// work queue. Queued executions survive process restarts; retries and
// backoff are driven by the queue, never by the handler that fired the
// rule.
package actions

import (
	"time"

	"github.com/atlaserp/backbone/pkg/rules"
)

// JobState represents the lifecycle state of an action job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// ActionJob is the GORM model for one queued action execution.
type ActionJob struct {
	ID             string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID       string        `gorm:"column:tenant_id;index:idx_action_tenant_state,priority:1;not null"`
	RuleID         string        `gorm:"column:rule_id;index"`
	Kind           string        `gorm:"column:kind;not null"`
	Config         rules.JSONMap `gorm:"column:config;type:text"`
	Context        rules.JSONMap `gorm:"column:context;type:text"`
	State          JobState      `gorm:"column:state;index:idx_action_tenant_state,priority:2;index:idx_action_state;not null;default:queued"`
	RequestedAt    time.Time     `gorm:"column:requested_at;not null"`
	StartedAt      *time.Time    `gorm:"column:started_at"`
	FinishedAt     *time.Time    `gorm:"column:finished_at"`
	AttemptCount   int           `gorm:"column:attempt_count;default:0"`
	LastError      string        `gorm:"column:last_error"`
	IdempotencyKey string        `gorm:"column:idempotency_key;uniqueIndex:idx_action_idemp_key"`
	DurationMs     int64         `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (ActionJob) TableName() string { return "action_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *ActionJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// ActionLog records the final outcome of an action execution whose retry
// budget was exhausted, or a notable success worth keeping.
type ActionLog struct {
	ID      string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	RuleID  string    `gorm:"column:rule_id;index"`
	Kind    string    `gorm:"column:kind"`
	Outcome string    `gorm:"column:outcome"`
	Detail  string    `gorm:"column:detail"`
	At      time.Time `gorm:"column:at;not null"`
}

// TableName returns the GORM table name.
func (ActionLog) TableName() string { return "action_logs" }
