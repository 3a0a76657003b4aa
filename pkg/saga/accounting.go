package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
)

// AccountingProjection posts double-entry journal rows for sales and
// payroll. Each row is one balanced Dr/Cr pair; the unique reference
// index makes redelivery a no-op.
type AccountingProjection struct {
	store  *Store
	logger *slog.Logger
}

// NewAccountingProjection creates the projection.
func NewAccountingProjection(store *Store, logger *slog.Logger) *AccountingProjection {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountingProjection{store: store, logger: logger}
}

// HandleSaleClosed posts Dr Cash / Cr Sales Revenue for the sale total.
func (p *AccountingProjection) HandleSaleClosed(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["order_number"].(string)
	if orderNumber == "" {
		return consumer.Drop
	}

	amount, err := parseAmount(evt.Body, "grand_total")
	if err != nil {
		p.logger.Error("malformed sale total", "orderNumber", orderNumber, "error", err)
		return consumer.Drop
	}

	return p.post(ctx, evt.TenantID, "journal_sale", journalPost{
		Reference:     "SALE-" + orderNumber,
		DebitAccount:  "Cash",
		CreditAccount: "Sales Revenue",
		Amount:        amount,
		Source:        "pos.sale.closed",
	})
}

// HandlePayrollFinalized posts Dr Salary Expense / Cr Salary Payable for
// the period's net pay.
func (p *AccountingProjection) HandlePayrollFinalized(ctx context.Context, evt eventbus.Event) consumer.Result {
	period, _ := evt.Body["period"].(string)
	if period == "" {
		return consumer.Drop
	}

	amount, err := parseAmount(evt.Body, "net_pay")
	if err != nil {
		p.logger.Error("malformed payroll total", "period", period, "error", err)
		return consumer.Drop
	}

	return p.post(ctx, evt.TenantID, "journal_payroll", journalPost{
		Reference:     "PAYROLL-" + period,
		DebitAccount:  "Salary Expense",
		CreditAccount: "Salary Payable",
		Amount:        amount,
		Source:        "hrms.payroll.finalized",
	})
}

type journalPost struct {
	Reference     string
	DebitAccount  string
	CreditAccount string
	Amount        decimal.Decimal
	Source        string
}

func (p *AccountingProjection) post(ctx context.Context, tenantID, stepName string, jp journalPost) consumer.Result {
	if jp.Amount.IsNegative() {
		p.logger.Error("negative journal amount rejected",
			"reference", jp.Reference, "amount", jp.Amount.String())
		return consumer.Drop
	}

	_, err := p.store.StepOnce(ctx, jp.Reference, stepName, func(tx *gorm.DB) error {
		entry := &JournalEntry{
			ID:            uuid.New().String(),
			TenantID:      tenantID,
			Reference:     jp.Reference,
			DebitAccount:  jp.DebitAccount,
			CreditAccount: jp.CreditAccount,
			Amount:        jp.Amount,
			Source:        jp.Source,
			PostedAt:      time.Now().UTC(),
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		p.logger.Error("journal post failed", "reference", jp.Reference, "error", err)
		return consumer.Retry
	}
	return consumer.Ok
}

// Entry returns a journal entry by reference.
func (p *AccountingProjection) Entry(ctx context.Context, tenantID, reference string) (*JournalEntry, error) {
	var entry JournalEntry
	err := p.store.db.WithContext(ctx).
		First(&entry, "tenant_id = ? AND reference = ?", tenantID, reference).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func parseAmount(body map[string]any, key string) (decimal.Decimal, error) {
	switch v := body[key].(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing %s", key)
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported %s type %T", key, v)
	}
}
