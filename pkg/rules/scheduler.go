package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTickInterval is how often the scheduler wakes up.
const DefaultTickInterval = 60 * time.Second

// Scheduler fires scheduled rules. Interval rules fire when enough time
// has passed since last_fired_at (immediately when never fired); cron
// rules fire when a scheduled instant has elapsed that is strictly after
// last_fired_at. A cron rule that has never fired waits for its first
// scheduled instant after creation.
type Scheduler struct {
	store    *Store
	enqueuer ActionEnqueuer
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time // test seam
}

// NewScheduler creates a Scheduler.
func NewScheduler(store *Store, enqueuer ActionEnqueuer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		enqueuer: enqueuer,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("rule scheduler started", "tickInterval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rule scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick evaluates every active scheduled rule once and returns the number
// fired. Firing produces a synthetic event body {scheduled_at} and runs
// the usual condition-then-action pipeline.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	scheduled, err := s.store.ListScheduled(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	fired := 0
	for i := range scheduled {
		rule := &scheduled[i]
		due, err := s.isDue(rule, now)
		if err != nil {
			s.logger.Error("unparseable schedule, skipping rule",
				"ruleID", rule.ID, "cron", rule.CronExpression, "error", err)
			continue
		}
		if !due {
			continue
		}

		body := map[string]any{"scheduled_at": now.Format(time.RFC3339)}
		if !rule.Condition().Eval(body) {
			// The schedule elapsed but the condition did not hold; the
			// instant still counts as consumed.
			if err := s.store.StampFired(ctx, rule.ID, now); err != nil {
				s.logger.Error("stamp last_fired_at failed", "ruleID", rule.ID, "error", err)
			}
			continue
		}

		if err := s.enqueuer.EnqueueAction(ctx, string(rule.ActionKind), rule.ID, rule.TenantID, rule.ActionConfig, body); err != nil {
			s.logger.Error("scheduled action enqueue failed", "ruleID", rule.ID, "error", err)
			continue
		}
		if err := s.store.StampFired(ctx, rule.ID, now); err != nil {
			s.logger.Error("stamp last_fired_at failed", "ruleID", rule.ID, "error", err)
		}
		fired++
	}
	return fired, nil
}

// isDue decides whether the rule's schedule has elapsed since the last
// firing.
func (s *Scheduler) isDue(rule *Rule, now time.Time) (bool, error) {
	if rule.IntervalMinutes != nil {
		if rule.LastFiredAt == nil {
			return true, nil
		}
		interval := time.Duration(*rule.IntervalMinutes) * time.Minute
		return now.Sub(*rule.LastFiredAt) >= interval, nil
	}

	schedule, err := cron.ParseStandard(rule.CronExpression)
	if err != nil {
		return false, err
	}

	since := rule.CreatedAt
	if rule.LastFiredAt != nil {
		since = *rule.LastFiredAt
	}
	// The most recent scheduled instant at-or-before now is strictly
	// after `since` exactly when the next instant after `since` has
	// already passed.
	next := schedule.Next(since)
	return !next.After(now), nil
}
