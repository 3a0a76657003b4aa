// Package workflow executes tenant-defined workflow graphs: a trigger
// node matched against incoming events, condition branching, typed
// actions and approval pauses. Instance progression is single-threaded
// per instance.
package workflow

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlaserp/backbone/pkg/rules"
)

// NodeKind enumerates workflow node types.
type NodeKind string

const (
	NodeTrigger   NodeKind = "trigger"
	NodeCondition NodeKind = "condition"
	NodeAction    NodeKind = "action"
	NodeApproval  NodeKind = "approval"
)

// Node is one vertex of a workflow graph. Config carries kind-specific
// settings: the trigger's event name, the condition's field/operator/
// value, the action's kind and payload.
type Node struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes. Condition nodes use the label to pick the
// "True" or "False" branch.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Graph is the workflow definition body, stored as a JSON column.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Value implements driver.Valuer.
func (g Graph) Value() (driver.Value, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (g *Graph) Scan(value any) error {
	if value == nil {
		*g = Graph{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported graph column type %T", value)
	}
	return json.Unmarshal(data, g)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Outgoing returns the edges leaving the given node, in definition order.
func (g *Graph) Outgoing(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// TriggerNode returns the graph's single trigger node, or nil.
func (g *Graph) TriggerNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Kind == NodeTrigger {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Validate enforces the structural invariants: exactly one trigger node,
// an acyclic graph, known node kinds, edges referencing real nodes, and
// an outgoing edge on every non-terminal node (a node is terminal when
// nothing leaves it).
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}

	ids := make(map[string]bool, len(g.Nodes))
	triggers := 0
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		switch n.Kind {
		case NodeTrigger:
			triggers++
		case NodeCondition, NodeAction, NodeApproval:
		default:
			return fmt.Errorf("node %q has unknown kind %q", n.ID, n.Kind)
		}
	}
	if triggers != 1 {
		return fmt.Errorf("graph must have exactly one trigger node, found %d", triggers)
	}

	for _, e := range g.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			return fmt.Errorf("edge %s->%s references unknown node", e.Source, e.Target)
		}
	}

	// Trigger nodes must lead somewhere.
	trigger := g.TriggerNode()
	if len(g.Outgoing(trigger.ID)) == 0 && len(g.Nodes) > 1 {
		return fmt.Errorf("trigger node %q has no outgoing edge", trigger.ID)
	}

	if g.hasCycle() {
		return fmt.Errorf("graph contains a cycle")
	}
	return nil
}

// hasCycle runs a DFS with three-color marking.
func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, e := range g.Outgoing(id) {
			switch color[e.Target] {
			case gray:
				return true
			case white:
				if visit(e.Target) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white && visit(n.ID) {
			return true
		}
	}
	return false
}

// Workflow is a tenant workflow definition.
type Workflow struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID  string    `gorm:"column:tenant_id;index;not null"`
	Name      string    `gorm:"column:name"`
	Graph     Graph     `gorm:"column:graph;type:text"`
	Active    bool      `gorm:"column:active;default:true"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Workflow) TableName() string { return "workflows" }

// TriggerEvent returns the routing key the workflow's trigger node
// listens on.
func (w *Workflow) TriggerEvent() string {
	n := w.Graph.TriggerNode()
	if n == nil {
		return ""
	}
	s, _ := n.Config["event"].(string)
	return s
}

// Validate checks the graph invariants.
func (w *Workflow) Validate() error {
	return w.Graph.Validate()
}

// InstanceState is the lifecycle state of a workflow instance.
type InstanceState string

const (
	InstanceRunning         InstanceState = "running"
	InstancePendingApproval InstanceState = "pending_approval"
	InstanceCompleted       InstanceState = "completed"
	InstanceFailed          InstanceState = "failed"
)

// Instance is one execution of a workflow graph.
type Instance struct {
	ID            string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	WorkflowID    string        `gorm:"column:workflow_id;index;not null"`
	TenantID      string        `gorm:"column:tenant_id;index;not null"`
	State         InstanceState `gorm:"column:state;index;not null"`
	CurrentNodeID string        `gorm:"column:current_node_id"`
	Context       rules.JSONMap `gorm:"column:context;type:text"`
	LastError     string        `gorm:"column:last_error"`
	StartedAt     time.Time     `gorm:"column:started_at"`
	EndedAt       *time.Time    `gorm:"column:ended_at"`
}

// TableName returns the GORM table name.
func (Instance) TableName() string { return "workflow_instances" }

// IsTerminal returns true once the instance can no longer progress.
func (i *Instance) IsTerminal() bool {
	return i.State == InstanceCompleted || i.State == InstanceFailed
}
