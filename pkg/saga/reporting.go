package saga

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
)

// ReportingProjection maintains per-day revenue/transaction aggregates
// and per-product counters. The merge is idempotent on order_number.
type ReportingProjection struct {
	store  *Store
	logger *slog.Logger
}

// NewReportingProjection creates the projection.
func NewReportingProjection(store *Store, logger *slog.Logger) *ReportingProjection {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportingProjection{store: store, logger: logger}
}

// HandleSaleClosed merges the sale into the day's aggregates.
func (p *ReportingProjection) HandleSaleClosed(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["order_number"].(string)
	if orderNumber == "" {
		return consumer.Drop
	}

	amount, err := parseAmount(evt.Body, "grand_total")
	if err != nil {
		p.logger.Error("malformed sale total", "orderNumber", orderNumber, "error", err)
		return consumer.Drop
	}
	items, _ := parseItems(evt.Body) // item-less sales still count revenue

	day := evt.OccurredAt.UTC().Format("2006-01-02")
	_, err = p.store.StepOnce(ctx, orderNumber, "reporting_merge", func(tx *gorm.DB) error {
		var agg DailyAggregate
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&agg, "tenant_id = ? AND day = ?", evt.TenantID, day).Error
		if err != nil {
			agg = DailyAggregate{TenantID: evt.TenantID, Day: day, Revenue: decimal.Zero}
		}
		agg.Revenue = agg.Revenue.Add(amount)
		agg.TxnCount++
		agg.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&agg).Error; err != nil {
			return err
		}

		for _, item := range items {
			var pc ProductDailyCount
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&pc, "tenant_id = ? AND day = ? AND sku = ?", evt.TenantID, day, item.SKU).Error
			if err != nil {
				pc = ProductDailyCount{TenantID: evt.TenantID, Day: day, SKU: item.SKU, Quantity: decimal.Zero}
			}
			pc.Quantity = pc.Quantity.Add(item.Qty)
			if err := tx.Save(&pc).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("reporting merge failed", "orderNumber", orderNumber, "error", err)
		return consumer.Retry
	}
	return consumer.Ok
}

// Daily returns a day's aggregate row, or nil when no sales landed.
func (p *ReportingProjection) Daily(ctx context.Context, tenantID string, day time.Time) (*DailyAggregate, error) {
	var agg DailyAggregate
	err := p.store.db.WithContext(ctx).
		First(&agg, "tenant_id = ? AND day = ?", tenantID, day.UTC().Format("2006-01-02")).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &agg, nil
}
