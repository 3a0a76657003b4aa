package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlaserp/backbone/pkg/eventbus"
)

// ActionEnqueuer hands a fired rule's action to the durable work queue.
// Action execution never runs inline in the handler that decided to fire;
// it survives process restarts in the queue.
type ActionEnqueuer interface {
	EnqueueAction(ctx context.Context, kind string, ruleID, tenantID string, config, eventContext map[string]any) error
}

// WorkflowTrigger starts workflow instances for an event. Satisfied by
// the workflow executor; kept as an interface to avoid a dependency
// cycle.
type WorkflowTrigger interface {
	HandleEvent(ctx context.Context, evt eventbus.Event) (int, error)
}

// Engine evaluates rules against incoming events.
type Engine struct {
	store     *Store
	enqueuer  ActionEnqueuer
	workflows WorkflowTrigger
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store *Store, enqueuer ActionEnqueuer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, enqueuer: enqueuer, logger: logger}
}

// SetWorkflowTrigger wires the workflow engine in. Events handled after
// this call also start matching workflows.
func (e *Engine) SetWorkflowTrigger(wt WorkflowTrigger) { e.workflows = wt }

// HandleEvent runs every matching active rule for the event's tenant.
// Evaluation is pure; re-running the same event produces the same set of
// queued actions. Returns the number of actions queued.
func (e *Engine) HandleEvent(ctx context.Context, evt eventbus.Event) (int, error) {
	matched, err := e.store.ListActiveByTrigger(ctx, evt.TenantID, evt.RoutingKey)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range matched {
		rule := &matched[i]
		if !rule.Condition().Eval(evt.Body) {
			continue
		}
		if err := e.fire(ctx, rule, evt.Body); err != nil {
			e.logger.Error("rule action enqueue failed",
				"ruleID", rule.ID, "tenantID", rule.TenantID, "error", err)
			continue
		}
		fired++
	}

	if e.workflows != nil {
		if _, err := e.workflows.HandleEvent(ctx, evt); err != nil {
			e.logger.Error("workflow dispatch failed",
				"routingKey", evt.RoutingKey, "tenantID", evt.TenantID, "error", err)
		}
	}
	return fired, nil
}

// fire queues the rule's action and stamps last_fired_at.
func (e *Engine) fire(ctx context.Context, rule *Rule, body map[string]any) error {
	if err := e.enqueuer.EnqueueAction(ctx, string(rule.ActionKind), rule.ID, rule.TenantID, rule.ActionConfig, body); err != nil {
		return err
	}
	if err := e.store.StampFired(ctx, rule.ID, time.Now().UTC()); err != nil {
		e.logger.Error("stamp last_fired_at failed", "ruleID", rule.ID, "error", err)
	}
	e.logger.Info("rule fired",
		"ruleID", rule.ID, "tenantID", rule.TenantID, "action", rule.ActionKind)
	return nil
}
