package actions

import (
	"context"
	"time"

	"github.com/atlaserp/backbone/pkg/rules"
)

// Runner executes actions synchronously while still recording them as
// jobs, so workflow steps leave the same audit trail as queued rule
// actions. Used by the workflow executor; rule firings go through the
// queue instead.
type Runner struct {
	store    *Store
	executor *Executor
}

// NewRunner creates a Runner.
func NewRunner(store *Store, executor *Executor) *Runner {
	return &Runner{store: store, executor: executor}
}

// RunAction implements workflow.ActionRunner.
func (r *Runner) RunAction(ctx context.Context, tenantID, kind string, config, eventContext map[string]any) error {
	job := &ActionJob{
		TenantID: tenantID,
		Kind:     kind,
		Config:   rules.JSONMap(config),
		Context:  rules.JSONMap(eventContext),
	}

	started := time.Now()
	err := r.executor.Execute(ctx, job)

	// Record the execution; persistence failures don't mask the action
	// outcome.
	job.State = JobStateSucceeded
	if err != nil {
		job.State = JobStateFailed
		job.LastError = err.Error()
	}
	job.AttemptCount = 1
	now := time.Now()
	job.StartedAt = &started
	job.FinishedAt = &now
	job.DurationMs = now.Sub(started).Milliseconds()
	if _, persistErr := r.store.Enqueue(ctx, job); persistErr != nil {
		return err
	}
	return err
}
