package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlaserp/backbone/pkg/eventbus"
	"github.com/atlaserp/backbone/pkg/rules"
)

// ActionRunner executes one typed action synchronously. Satisfied by the
// actions runner; kept as an interface so tests can observe executions.
type ActionRunner interface {
	RunAction(ctx context.Context, tenantID, kind string, config, eventContext map[string]any) error
}

// Executor advances workflow instances through their graphs. Instance
// progression is single-threaded per instance; concurrent instances of
// the same workflow progress independently.
type Executor struct {
	store  *Store
	runner ActionRunner
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(store *Store, runner ActionRunner, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, runner: runner, logger: logger}
}

// HandleEvent starts an instance for every active workflow whose trigger
// node matches the event's routing key. Implements rules.WorkflowTrigger.
// Returns the number of instances started.
func (e *Executor) HandleEvent(ctx context.Context, evt eventbus.Event) (int, error) {
	workflows, err := e.store.ListActive(ctx, evt.TenantID)
	if err != nil {
		return 0, err
	}

	started := 0
	for i := range workflows {
		wf := &workflows[i]
		if wf.TriggerEvent() != evt.RoutingKey {
			continue
		}
		if _, err := e.Start(ctx, wf, evt.Body); err != nil {
			e.logger.Error("workflow start failed",
				"workflowID", wf.ID, "tenantID", wf.TenantID, "error", err)
			continue
		}
		started++
	}
	return started, nil
}

// Start creates a running instance positioned at the trigger node and
// steps it until it pauses or terminates.
func (e *Executor) Start(ctx context.Context, wf *Workflow, eventBody map[string]any) (*Instance, error) {
	trigger := wf.Graph.TriggerNode()
	if trigger == nil {
		return nil, fmt.Errorf("workflow %s has no trigger node", wf.ID)
	}

	inst, err := e.store.CreateInstance(ctx, &Instance{
		WorkflowID:    wf.ID,
		TenantID:      wf.TenantID,
		State:         InstanceRunning,
		CurrentNodeID: trigger.ID,
		Context:       rules.JSONMap(eventBody),
		StartedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	e.run(ctx, wf, inst)
	return inst, nil
}

// Approve resumes an instance paused at an approval node: it advances
// current_node_id past the approval and continues stepping.
func (e *Executor) Approve(ctx context.Context, tenantID, instanceID string) (*Instance, error) {
	inst, err := e.store.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State != InstancePendingApproval {
		return nil, fmt.Errorf("instance %s is %s, not pending approval", inst.ID, inst.State)
	}

	wf, err := e.store.Get(ctx, tenantID, inst.WorkflowID)
	if err != nil {
		return nil, err
	}

	edges := wf.Graph.Outgoing(inst.CurrentNodeID)
	if len(edges) == 0 {
		// Approval was the last node.
		e.finish(ctx, inst, InstanceCompleted, "")
		return inst, nil
	}

	inst.State = InstanceRunning
	inst.CurrentNodeID = edges[0].Target
	if err := e.store.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}

	e.run(ctx, wf, inst)
	return inst, nil
}

// run steps the instance until it reaches a terminal or paused state.
func (e *Executor) run(ctx context.Context, wf *Workflow, inst *Instance) {
	// Graph.Validate guarantees acyclicity; the bound is a safety net
	// against definitions mutated after validation.
	for steps := 0; steps <= len(wf.Graph.Nodes); steps++ {
		if inst.IsTerminal() || inst.State == InstancePendingApproval {
			return
		}
		if !e.step(ctx, wf, inst) {
			return
		}
	}
	e.finish(ctx, inst, InstanceFailed, "step budget exceeded")
}

// step executes the current node and advances current_node_id. Returns
// false when the instance stopped (terminal or paused).
func (e *Executor) step(ctx context.Context, wf *Workflow, inst *Instance) bool {
	node := wf.Graph.Node(inst.CurrentNodeID)
	if node == nil {
		e.finish(ctx, inst, InstanceFailed, fmt.Sprintf("node %s not found", inst.CurrentNodeID))
		return false
	}

	switch node.Kind {
	case NodeTrigger:
		return e.advance(ctx, wf, inst, node, "")

	case NodeAction:
		kind, _ := node.Config["kind"].(string)
		config, _ := node.Config["config"].(map[string]any)
		if err := e.runner.RunAction(ctx, inst.TenantID, kind, config, inst.Context); err != nil {
			e.logger.Error("workflow action failed",
				"instanceID", inst.ID, "nodeID", node.ID, "kind", kind, "error", err)
			e.finish(ctx, inst, InstanceFailed, err.Error())
			return false
		}
		return e.advance(ctx, wf, inst, node, "")

	case NodeCondition:
		label := "False"
		if nodeCondition(node).Eval(inst.Context) {
			label = "True"
		}
		return e.advance(ctx, wf, inst, node, label)

	case NodeApproval:
		inst.State = InstancePendingApproval
		if err := e.store.SaveInstance(ctx, inst); err != nil {
			e.logger.Error("pause instance failed", "instanceID", inst.ID, "error", err)
		}
		return false
	}

	e.finish(ctx, inst, InstanceFailed, fmt.Sprintf("unknown node kind %q", node.Kind))
	return false
}

// advance follows the outgoing edge (preferring the labeled one) or
// completes the instance when the node is terminal.
func (e *Executor) advance(ctx context.Context, wf *Workflow, inst *Instance, node *Node, label string) bool {
	edges := wf.Graph.Outgoing(node.ID)
	if len(edges) == 0 {
		e.finish(ctx, inst, InstanceCompleted, "")
		return false
	}

	next := edges[0]
	if label != "" {
		for _, edge := range edges {
			if edge.Label == label {
				next = edge
				break
			}
		}
	}

	inst.CurrentNodeID = next.Target
	if err := e.store.SaveInstance(ctx, inst); err != nil {
		e.logger.Error("save instance failed", "instanceID", inst.ID, "error", err)
		return false
	}
	return true
}

// finish moves the instance to a terminal state.
func (e *Executor) finish(ctx context.Context, inst *Instance, state InstanceState, reason string) {
	now := time.Now().UTC()
	inst.State = state
	inst.LastError = reason
	inst.EndedAt = &now
	if err := e.store.SaveInstance(ctx, inst); err != nil {
		e.logger.Error("finish instance failed", "instanceID", inst.ID, "error", err)
	}
	e.logger.Info("workflow instance finished",
		"instanceID", inst.ID, "workflowID", inst.WorkflowID, "state", state)
}

// nodeCondition builds an evaluable condition from a condition node's
// config {field, operator, value}.
func nodeCondition(node *Node) rules.Condition {
	field, _ := node.Config["field"].(string)
	operator, _ := node.Config["operator"].(string)
	raw := ""
	if v, ok := node.Config["value"]; ok {
		if data, err := json.Marshal(v); err == nil {
			raw = string(data)
		}
	}
	return rules.Condition{Field: field, Operator: operator, RawValue: raw}
}
