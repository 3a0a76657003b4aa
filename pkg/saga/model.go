// Package saga coordinates cross-service flows over the event bus: the
// POS sale closure saga, purchase receipt, manufacturing quality and
// payroll posting. Every flow is keyed by a single correlation id chosen
// by the originator; every handler is idempotent on
// (correlation_id, step_name).
package saga

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a saga record. Terminal states are
// sticky: once succeeded, failed or compensated, a record never moves.
type State string

const (
	StatePending     State = "pending"
	StateProcessing  State = "processing"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateCompensated State = "compensated"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCompensated
}

// Record tracks one saga run. CorrelationID is the originator's key:
// order number for POS sales, PO reference for purchases, production
// order number for manufacturing.
type Record struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID      string    `gorm:"column:tenant_id;index;not null"`
	CorrelationID string    `gorm:"column:correlation_id;uniqueIndex:idx_saga_corr_kind,priority:1;not null"`
	Kind          string    `gorm:"column:kind;uniqueIndex:idx_saga_corr_kind,priority:2;not null"`
	State         State     `gorm:"column:state;index;not null"`
	Note          string    `gorm:"column:note"`
	StartedAt     time.Time `gorm:"column:started_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Record) TableName() string { return "saga_records" }

// Step marks one subscriber-side step as done. The unique index on
// (correlation_id, step_name) is what makes redelivery a no-op.
type Step struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	CorrelationID string    `gorm:"column:correlation_id;uniqueIndex:idx_saga_step,priority:1;not null"`
	StepName      string    `gorm:"column:step_name;uniqueIndex:idx_saga_step,priority:2;not null"`
	Outcome       string    `gorm:"column:outcome"`
	At            time.Time `gorm:"column:at;not null"`
}

// TableName returns the GORM table name.
func (Step) TableName() string { return "saga_steps" }

// StockLevel is the inventory projection's stock row, updated under the
// projection's transaction.
type StockLevel struct {
	TenantID  string          `gorm:"primaryKey;column:tenant_id;type:varchar(36)"`
	SKU       string          `gorm:"primaryKey;column:sku;type:varchar(64)"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:decimal(20,4)"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (StockLevel) TableName() string { return "stock_levels" }

// JournalEntry is the accounting projection's double-entry row. One row
// is one balanced Dr/Cr pair; the amount appears on both sides, so the
// double-entry invariant holds by construction.
type JournalEntry struct {
	ID            string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID      string          `gorm:"column:tenant_id;index;not null"`
	Reference     string          `gorm:"column:reference;uniqueIndex:idx_journal_ref;not null"`
	DebitAccount  string          `gorm:"column:debit_account;not null"`
	CreditAccount string          `gorm:"column:credit_account;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,4)"`
	Source        string          `gorm:"column:source"`
	PostedAt      time.Time       `gorm:"column:posted_at"`
}

// TableName returns the GORM table name.
func (JournalEntry) TableName() string { return "journal_entries" }

// LoyaltyBalance is the loyalty projection's per-customer points row.
type LoyaltyBalance struct {
	TenantID   string          `gorm:"primaryKey;column:tenant_id;type:varchar(36)"`
	CustomerID string          `gorm:"primaryKey;column:customer_id;type:varchar(36)"`
	Points     decimal.Decimal `gorm:"column:points;type:decimal(20,4)"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (LoyaltyBalance) TableName() string { return "loyalty_balances" }

// DailyAggregate is the reporting projection's per-day rollup.
type DailyAggregate struct {
	TenantID  string          `gorm:"primaryKey;column:tenant_id;type:varchar(36)"`
	Day       string          `gorm:"primaryKey;column:day;type:varchar(10)"` // YYYY-MM-DD
	Revenue   decimal.Decimal `gorm:"column:revenue;type:decimal(20,4)"`
	TxnCount  int64           `gorm:"column:txn_count"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (DailyAggregate) TableName() string { return "daily_aggregates" }

// ProductDailyCount is the reporting projection's per-product counter.
type ProductDailyCount struct {
	TenantID string          `gorm:"primaryKey;column:tenant_id;type:varchar(36)"`
	Day      string          `gorm:"primaryKey;column:day;type:varchar(10)"`
	SKU      string          `gorm:"primaryKey;column:sku;type:varchar(64)"`
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(20,4)"`
}

// TableName returns the GORM table name.
func (ProductDailyCount) TableName() string { return "product_daily_counts" }
