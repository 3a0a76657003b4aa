package saga

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
)

// defaultEarnRate: points earned per currency unit when the tenant has
// no override (LOYALTY_EARN_RATE).
var defaultEarnRate = decimal.NewFromFloat(0.01)

// LoyaltyProjection accrues customer points from closed sales, keyed on
// order_number.
type LoyaltyProjection struct {
	store    *Store
	earnRate decimal.Decimal
	logger   *slog.Logger
}

// NewLoyaltyProjection creates the projection. The earn rate comes from
// LOYALTY_EARN_RATE or defaults to 0.01 points per currency unit.
func NewLoyaltyProjection(store *Store, logger *slog.Logger) *LoyaltyProjection {
	if logger == nil {
		logger = slog.Default()
	}
	rate := defaultEarnRate
	if v := os.Getenv("LOYALTY_EARN_RATE"); v != "" {
		if parsed, err := decimal.NewFromString(v); err == nil && parsed.IsPositive() {
			rate = parsed
		}
	}
	return &LoyaltyProjection{store: store, earnRate: rate, logger: logger}
}

// HandleSaleClosed accrues points for the sale's customer. Sales without
// a customer_id (walk-ins) are skipped.
func (p *LoyaltyProjection) HandleSaleClosed(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["order_number"].(string)
	if orderNumber == "" {
		return consumer.Drop
	}
	customerID, _ := evt.Body["customer_id"].(string)
	if customerID == "" {
		return consumer.Ok
	}

	amount, err := parseAmount(evt.Body, "grand_total")
	if err != nil {
		p.logger.Error("malformed sale total", "orderNumber", orderNumber, "error", err)
		return consumer.Drop
	}
	earned := amount.Mul(p.earnRate)

	_, err = p.store.StepOnce(ctx, orderNumber, "loyalty_accrual", func(tx *gorm.DB) error {
		var balance LoyaltyBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&balance, "tenant_id = ? AND customer_id = ?", evt.TenantID, customerID).Error
		if err != nil {
			balance = LoyaltyBalance{TenantID: evt.TenantID, CustomerID: customerID, Points: decimal.Zero}
		}
		balance.Points = balance.Points.Add(earned)
		balance.UpdatedAt = time.Now().UTC()
		return tx.Save(&balance).Error
	})
	if err != nil {
		p.logger.Error("loyalty accrual failed", "orderNumber", orderNumber, "error", err)
		return consumer.Retry
	}
	return consumer.Ok
}

// Balance returns a customer's current points.
func (p *LoyaltyProjection) Balance(ctx context.Context, tenantID, customerID string) (decimal.Decimal, error) {
	var balance LoyaltyBalance
	err := p.store.db.WithContext(ctx).
		First(&balance, "tenant_id = ? AND customer_id = ?", tenantID, customerID).Error
	if err != nil {
		return decimal.Decimal{}, err
	}
	return balance.Points, nil
}
