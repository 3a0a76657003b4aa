// Package rules implements tenant-defined automation rules: trigger event
// matching, condition evaluation, scheduled firing and action dispatch to
// the durable action queue.
package rules

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a JSON object column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return json.Unmarshal(data, m)
}

// ActionKind enumerates the typed actions a rule can fire. Unknown kinds
// are rejected at rule creation.
type ActionKind string

const (
	ActionEmail               ActionKind = "email"
	ActionWebhook             ActionKind = "webhook"
	ActionLog                 ActionKind = "log"
	ActionRaiseRFQ            ActionKind = "raise_rfq"
	ActionCreateJournal       ActionKind = "create_journal"
	ActionCreateProductionJob ActionKind = "create_production_job"
)

// KnownActionKinds lists every valid kind.
var KnownActionKinds = []ActionKind{
	ActionEmail, ActionWebhook, ActionLog,
	ActionRaiseRFQ, ActionCreateJournal, ActionCreateProductionJob,
}

// Rule is a tenant automation rule: when trigger_event arrives (or a
// schedule fires) and the condition holds, the action is queued.
type Rule struct {
	ID                string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID          string     `gorm:"column:tenant_id;index:idx_rule_tenant_trigger,priority:1;not null"`
	Name              string     `gorm:"column:name"`
	TriggerEvent      string     `gorm:"column:trigger_event;index:idx_rule_tenant_trigger,priority:2"`
	ConditionField    string     `gorm:"column:condition_field"`
	ConditionOperator string     `gorm:"column:condition_operator"`
	ConditionValue    string     `gorm:"column:condition_value"` // JSON-encoded scalar
	ActionKind        ActionKind `gorm:"column:action_kind;not null"`
	ActionConfig      JSONMap    `gorm:"column:action_config;type:text"`
	IsScheduled       bool       `gorm:"column:is_scheduled;index"`
	IntervalMinutes   *int       `gorm:"column:interval_minutes"`
	CronExpression    string     `gorm:"column:cron_expression"`
	LastFiredAt       *time.Time `gorm:"column:last_fired_at"`
	Active            bool       `gorm:"column:active;default:true"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Rule) TableName() string { return "automation_rules" }

// Condition returns the rule's condition in evaluable form.
func (r *Rule) Condition() Condition {
	return Condition{
		Field:    r.ConditionField,
		Operator: r.ConditionOperator,
		RawValue: r.ConditionValue,
	}
}

// Validate rejects malformed rules: unknown action kinds, and scheduled
// rules that do not set exactly one of interval_minutes/cron_expression.
func (r *Rule) Validate() error {
	known := false
	for _, k := range KnownActionKinds {
		if r.ActionKind == k {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown action kind %q", r.ActionKind)
	}
	if r.IsScheduled {
		hasInterval := r.IntervalMinutes != nil
		hasCron := r.CronExpression != ""
		if hasInterval == hasCron {
			return fmt.Errorf("scheduled rule must set exactly one of interval_minutes or cron_expression")
		}
	}
	return nil
}
