package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlaserp/backbone/pkg/cache"
)

// Store provides database operations for automation rules.
type Store struct {
	db *gorm.DB

	// lookups caches ListActiveByTrigger results keyed by
	// (tenant, trigger). Nil disables caching.
	lookups *cache.LRUCache
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UseCache installs a lookup cache for the event evaluation path.
// Writes through this Store invalidate the owning tenant's entries;
// the cache TTL bounds staleness caused by writes on peer replicas.
func (s *Store) UseCache(c *cache.LRUCache) { s.lookups = c }

func lookupKey(tenantID, routingKey string) string {
	return tenantID + "\x00" + routingKey
}

// AutoMigrate creates or updates the automation_rules table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Rule{})
}

// Create validates and persists a rule.
func (s *Store) Create(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.lookups.InvalidatePrefix(rule.TenantID + "\x00")
	return rule, nil
}

// Get returns a rule scoped to its tenant, or nil.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Rule, error) {
	var rule Rule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return &rule, nil
}

// List returns all of a tenant's rules.
func (s *Store) List(ctx context.Context, tenantID string) ([]Rule, error) {
	var out []Rule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

// ListActiveByTrigger returns a tenant's active rules whose trigger_event
// equals the routing key. Rule triggers match by equality, no wildcards.
func (s *Store) ListActiveByTrigger(ctx context.Context, tenantID, routingKey string) ([]Rule, error) {
	key := lookupKey(tenantID, routingKey)
	if cached, ok := s.lookups.Get(key); ok {
		return cached.([]Rule), nil
	}

	var out []Rule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND trigger_event = ? AND active = ?", tenantID, routingKey, true).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list rules by trigger: %w", err)
	}
	s.lookups.Set(key, out)
	return out, nil
}

// ListScheduled returns every active scheduled rule across tenants.
func (s *Store) ListScheduled(ctx context.Context) ([]Rule, error) {
	var out []Rule
	err := s.db.WithContext(ctx).
		Where("is_scheduled = ? AND active = ?", true, true).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled rules: %w", err)
	}
	return out, nil
}

// StampFired records the firing instant. last_fired_at only moves forward.
func (s *Store) StampFired(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Rule{}).
		Where("id = ? AND (last_fired_at IS NULL OR last_fired_at <= ?)", id, at).
		Update("last_fired_at", at).Error
	if err != nil {
		return fmt.Errorf("stamp rule fired: %w", err)
	}
	return nil
}

// SetActive toggles a rule.
func (s *Store) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	result := s.db.WithContext(ctx).Model(&Rule{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("set rule active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	s.lookups.InvalidatePrefix(tenantID + "\x00")
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&Rule{})
	if result.Error != nil {
		return fmt.Errorf("delete rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	s.lookups.InvalidatePrefix(tenantID + "\x00")
	return nil
}
