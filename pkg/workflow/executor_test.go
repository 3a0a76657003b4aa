package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atlaserp/backbone/pkg/eventbus"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

type ranAction struct {
	TenantID string
	Kind     string
	Config   map[string]any
	Context  map[string]any
}

type fakeRunner struct {
	ran []ranAction
	err error
}

func (f *fakeRunner) RunAction(_ context.Context, tenantID, kind string, config, eventContext map[string]any) error {
	f.ran = append(f.ran, ranAction{TenantID: tenantID, Kind: kind, Config: config, Context: eventContext})
	return f.err
}

// branchingWorkflow: trigger -> condition(amount > 1000) -> True: email,
// False: log.
func branchingWorkflow(t *testing.T, store *Store) *Workflow {
	t.Helper()
	wf, err := store.Create(context.Background(), &Workflow{
		TenantID: "T",
		Name:     "large order review",
		Active:   true,
		Graph: Graph{
			Nodes: []Node{
				{ID: "start", Kind: NodeTrigger, Config: map[string]any{"event": "pos.sale.closed"}},
				{ID: "check", Kind: NodeCondition, Config: map[string]any{
					"field": "amount", "operator": ">", "value": float64(1000),
				}},
				{ID: "notify", Kind: NodeAction, Config: map[string]any{
					"kind": "email",
					"config": map[string]any{
						"to": []any{"manager@example.com"}, "subject": "large sale",
					},
				}},
				{ID: "record", Kind: NodeAction, Config: map[string]any{
					"kind":   "log",
					"config": map[string]any{"message": "routine sale"},
				}},
			},
			Edges: []Edge{
				{Source: "start", Target: "check"},
				{Source: "check", Target: "notify", Label: "True"},
				{Source: "check", Target: "record", Label: "False"},
			},
		},
	})
	require.NoError(t, err)
	return wf
}

func TestBranchingWorkflowTruePath(t *testing.T) {
	store := setupTestStore(t)
	wf := branchingWorkflow(t, store)
	runner := &fakeRunner{}
	exec := NewExecutor(store, runner, nil)

	inst, err := exec.Start(context.Background(), wf, map[string]any{"amount": float64(2000)})
	require.NoError(t, err)

	reloaded, err := store.GetInstance(context.Background(), "T", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceCompleted, reloaded.State)

	require.Len(t, runner.ran, 1)
	assert.Equal(t, "email", runner.ran[0].Kind)
	assert.Equal(t, "T", runner.ran[0].TenantID)
	assert.Equal(t, float64(2000), runner.ran[0].Context["amount"])
}

func TestBranchingWorkflowFalsePath(t *testing.T) {
	store := setupTestStore(t)
	wf := branchingWorkflow(t, store)
	runner := &fakeRunner{}
	exec := NewExecutor(store, runner, nil)

	inst, err := exec.Start(context.Background(), wf, map[string]any{"amount": float64(500)})
	require.NoError(t, err)

	reloaded, err := store.GetInstance(context.Background(), "T", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceCompleted, reloaded.State)

	require.Len(t, runner.ran, 1)
	assert.Equal(t, "log", runner.ran[0].Kind)
}

func TestHandleEventStartsMatchingWorkflows(t *testing.T) {
	store := setupTestStore(t)
	branchingWorkflow(t, store)
	runner := &fakeRunner{}
	exec := NewExecutor(store, runner, nil)

	evt := eventbus.New("pos.sale.closed", "T", map[string]any{"amount": float64(2000)})
	started, err := exec.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	other := eventbus.New("purchase.order.received", "T", map[string]any{})
	started, err = exec.HandleEvent(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 0, started)
}

func TestApprovalPausesAndResumes(t *testing.T) {
	store := setupTestStore(t)
	wf, err := store.Create(context.Background(), &Workflow{
		TenantID: "T",
		Name:     "discount approval",
		Active:   true,
		Graph: Graph{
			Nodes: []Node{
				{ID: "start", Kind: NodeTrigger, Config: map[string]any{"event": "pos.discount.requested"}},
				{ID: "wait", Kind: NodeApproval},
				{ID: "apply", Kind: NodeAction, Config: map[string]any{
					"kind": "log", "config": map[string]any{"message": "discount applied"},
				}},
			},
			Edges: []Edge{
				{Source: "start", Target: "wait"},
				{Source: "wait", Target: "apply"},
			},
		},
	})
	require.NoError(t, err)

	runner := &fakeRunner{}
	exec := NewExecutor(store, runner, nil)

	inst, err := exec.Start(context.Background(), wf, map[string]any{"percent": float64(20)})
	require.NoError(t, err)

	paused, err := store.GetInstance(context.Background(), "T", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstancePendingApproval, paused.State)
	assert.Equal(t, "wait", paused.CurrentNodeID)
	assert.Empty(t, runner.ran)

	resumed, err := exec.Approve(context.Background(), "T", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceCompleted, resumed.State)
	require.Len(t, runner.ran, 1)
	assert.Equal(t, "log", runner.ran[0].Kind)
}

func TestApproveRejectsNonPendingInstance(t *testing.T) {
	store := setupTestStore(t)
	wf := branchingWorkflow(t, store)
	runner := &fakeRunner{}
	exec := NewExecutor(store, runner, nil)

	inst, err := exec.Start(context.Background(), wf, map[string]any{"amount": float64(500)})
	require.NoError(t, err)

	_, err = exec.Approve(context.Background(), "T", inst.ID)
	assert.Error(t, err)
}

func TestActionFailureFailsInstance(t *testing.T) {
	store := setupTestStore(t)
	wf := branchingWorkflow(t, store)
	runner := &fakeRunner{err: errors.New("smtp down")}
	exec := NewExecutor(store, runner, nil)

	inst, err := exec.Start(context.Background(), wf, map[string]any{"amount": float64(2000)})
	require.NoError(t, err)

	reloaded, err := store.GetInstance(context.Background(), "T", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceFailed, reloaded.State)
	assert.Contains(t, reloaded.LastError, "smtp down")
}

func TestGraphValidate(t *testing.T) {
	trigger := Node{ID: "t", Kind: NodeTrigger}
	action := Node{ID: "a", Kind: NodeAction}

	tests := []struct {
		name    string
		graph   Graph
		wantErr string
	}{
		{
			name:    "empty graph",
			graph:   Graph{},
			wantErr: "no nodes",
		},
		{
			name: "no trigger",
			graph: Graph{
				Nodes: []Node{action},
			},
			wantErr: "exactly one trigger",
		},
		{
			name: "two triggers",
			graph: Graph{
				Nodes: []Node{trigger, {ID: "t2", Kind: NodeTrigger}},
			},
			wantErr: "exactly one trigger",
		},
		{
			name: "cycle",
			graph: Graph{
				Nodes: []Node{trigger, action, {ID: "b", Kind: NodeAction}},
				Edges: []Edge{
					{Source: "t", Target: "a"},
					{Source: "a", Target: "b"},
					{Source: "b", Target: "a"},
				},
			},
			wantErr: "cycle",
		},
		{
			name: "edge to unknown node",
			graph: Graph{
				Nodes: []Node{trigger, action},
				Edges: []Edge{{Source: "t", Target: "ghost"}},
			},
			wantErr: "unknown node",
		},
		{
			name: "disconnected trigger",
			graph: Graph{
				Nodes: []Node{trigger, action},
			},
			wantErr: "no outgoing edge",
		},
		{
			name: "valid linear",
			graph: Graph{
				Nodes: []Node{trigger, action},
				Edges: []Edge{{Source: "t", Target: "a"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInstanceTenantIsolation(t *testing.T) {
	store := setupTestStore(t)
	wf := branchingWorkflow(t, store)
	exec := NewExecutor(store, &fakeRunner{}, nil)

	inst, err := exec.Start(context.Background(), wf, map[string]any{"amount": float64(500)})
	require.NoError(t, err)

	_, err = store.GetInstance(context.Background(), "other-tenant", inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
