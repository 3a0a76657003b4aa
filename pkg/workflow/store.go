package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound indicates a workflow or instance does not exist for the
// tenant.
var ErrNotFound = errors.New("not_found")

// Store provides database operations for workflows and instances.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the workflow tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Workflow{}, &Instance{})
}

// Create validates and persists a workflow definition.
func (s *Store) Create(ctx context.Context, wf *Workflow) (*Workflow, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(wf).Error; err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return wf, nil
}

// Get returns one workflow scoped to the tenant.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Workflow, error) {
	var wf Workflow
	err := s.db.WithContext(ctx).First(&wf, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

// List returns the tenant's workflows.
func (s *Store) List(ctx context.Context, tenantID string) ([]Workflow, error) {
	var out []Workflow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return out, nil
}

// ListActive returns every active workflow for the tenant. Trigger-event
// matching happens in memory since the event name lives inside the graph
// JSON.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]Workflow, error) {
	var out []Workflow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	return out, nil
}

// Delete removes a workflow definition. Instances are kept for audit.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&Workflow{})
	if result.Error != nil {
		return fmt.Errorf("delete workflow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInstance persists a new running instance.
func (s *Store) CreateInstance(ctx context.Context, inst *Instance) (*Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.State == "" {
		inst.State = InstanceRunning
	}
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}
	return inst, nil
}

// GetInstance returns one instance scoped to the tenant.
func (s *Store) GetInstance(ctx context.Context, tenantID, id string) (*Instance, error) {
	var inst Instance
	err := s.db.WithContext(ctx).First(&inst, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow instance: %w", err)
	}
	return &inst, nil
}

// ListInstances returns the tenant's instances, newest first, optionally
// filtered by state.
func (s *Store) ListInstances(ctx context.Context, tenantID string, state InstanceState) ([]Instance, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var out []Instance
	if err := q.Order("started_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list workflow instances: %w", err)
	}
	return out, nil
}

// SaveInstance persists the instance's progression. Terminal states are
// sticky: an instance already completed or failed is never overwritten.
func (s *Store) SaveInstance(ctx context.Context, inst *Instance) error {
	result := s.db.WithContext(ctx).Model(&Instance{}).
		Where("id = ? AND state NOT IN ?", inst.ID,
			[]InstanceState{InstanceCompleted, InstanceFailed}).
		Updates(map[string]any{
			"state":           inst.State,
			"current_node_id": inst.CurrentNodeID,
			"context":         inst.Context,
			"last_error":      inst.LastError,
			"ended_at":        inst.EndedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("save workflow instance: %w", result.Error)
	}
	return nil
}
