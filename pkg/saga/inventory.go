package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
)

// InventoryProjection consumes pos.sale.closed and purchase receipts,
// adjusting stock rows under a transaction. It replies with
// stock.update.success or stock.update.failed echoing the correlation
// key.
type InventoryProjection struct {
	store  *Store
	bus    eventbus.Publisher
	logger *slog.Logger
}

// NewInventoryProjection creates the projection.
func NewInventoryProjection(store *Store, bus eventbus.Publisher, logger *slog.Logger) *InventoryProjection {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryProjection{store: store, bus: bus, logger: logger}
}

// saleItem is one line of a pos.sale.closed payload.
type saleItem struct {
	SKU string
	Qty decimal.Decimal
}

func parseItems(body map[string]any) ([]saleItem, error) {
	raw, _ := body["items"].([]any)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no items in payload")
	}
	out := make([]saleItem, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
		sku, _ := m["sku"].(string)
		if sku == "" {
			return nil, fmt.Errorf("item %d missing sku", i)
		}
		qty, err := toQuantity(m["qty"])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, saleItem{SKU: sku, Qty: qty})
	}
	return out, nil
}

func toQuantity(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing qty")
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported qty type %T", v)
}

// HandleSaleClosed reserves then decrements stock for each item. The
// whole adjustment and the step mark commit in one transaction, keyed on
// order_number, so redelivery is a no-op. The reply event is published
// after commit.
func (p *InventoryProjection) HandleSaleClosed(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["order_number"].(string)
	if orderNumber == "" {
		return consumer.Drop
	}

	items, err := parseItems(evt.Body)
	if err != nil {
		p.logger.Error("malformed sale payload", "orderNumber", orderNumber, "error", err)
		return consumer.Drop
	}

	// Reserve (lock + check every line) before decrementing anything, so
	// a short line never leaves a partial decrement behind. A shortage is
	// a business outcome: the step still commits, keeping redelivery a
	// no-op.
	var remaining decimal.Decimal
	var shortSKU, shortReason string
	ran, err := p.store.StepOnce(ctx, orderNumber, "inventory_decrement", func(tx *gorm.DB) error {
		levels := make([]*StockLevel, len(items))
		for i, item := range items {
			level, err := lockStock(tx, evt.TenantID, item.SKU)
			if err != nil {
				return err
			}
			if level.Quantity.LessThan(item.Qty) {
				shortSKU = item.SKU
				shortReason = fmt.Sprintf("insufficient stock for %s: have %s, need %s",
					item.SKU, level.Quantity.String(), item.Qty.String())
				return nil
			}
			levels[i] = level
		}
		for i, item := range items {
			level := levels[i]
			level.Quantity = level.Quantity.Sub(item.Qty)
			level.UpdatedAt = time.Now().UTC()
			if err := tx.Save(level).Error; err != nil {
				return fmt.Errorf("update stock %s: %w", item.SKU, err)
			}
			remaining = level.Quantity
		}
		return nil
	})

	if err != nil {
		p.logger.Error("inventory decrement failed", "orderNumber", orderNumber, "error", err)
		return consumer.Retry
	}
	if !ran {
		return consumer.Ok // Redelivery; reply already went out.
	}

	if shortSKU != "" {
		p.publishReply(ctx, "stock.update.failed", evt.TenantID, map[string]any{
			"order_reference": orderNumber,
			"error":           shortReason,
			"sku":             shortSKU,
		})
		return consumer.Ok
	}

	p.publishReply(ctx, "stock.update.success", evt.TenantID, map[string]any{
		"order_reference":    orderNumber,
		"quantity_remaining": remaining.InexactFloat64(),
	})
	return consumer.Ok
}

// HandlePurchaseReceived increments stock for a received purchase order,
// keyed on the PO reference.
func (p *InventoryProjection) HandlePurchaseReceived(ctx context.Context, evt eventbus.Event) consumer.Result {
	poRef, _ := evt.Body["po_reference"].(string)
	if poRef == "" {
		return consumer.Drop
	}

	items, err := parseItems(evt.Body)
	if err != nil {
		p.logger.Error("malformed purchase payload", "poReference", poRef, "error", err)
		p.publishReply(ctx, "stock.update.failed", evt.TenantID, map[string]any{
			"order_reference": poRef,
			"error":           err.Error(),
		})
		return consumer.Ok
	}

	ran, err := p.store.StepOnce(ctx, poRef, "inventory_increment", func(tx *gorm.DB) error {
		for _, item := range items {
			level, err := lockStock(tx, evt.TenantID, item.SKU)
			if err != nil {
				return err
			}
			level.Quantity = level.Quantity.Add(item.Qty)
			level.UpdatedAt = time.Now().UTC()
			if err := tx.Save(level).Error; err != nil {
				return fmt.Errorf("update stock %s: %w", item.SKU, err)
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("inventory increment failed", "poReference", poRef, "error", err)
		return consumer.Retry
	}
	if !ran {
		return consumer.Ok
	}

	p.publishReply(ctx, "stock.update.success", evt.TenantID, map[string]any{
		"order_reference": poRef,
	})
	return consumer.Ok
}

// SetStock seeds a stock row; used by operators and tests.
func (p *InventoryProjection) SetStock(ctx context.Context, tenantID, sku string, qty decimal.Decimal) error {
	level := &StockLevel{TenantID: tenantID, SKU: sku, Quantity: qty, UpdatedAt: time.Now().UTC()}
	return p.store.db.WithContext(ctx).Save(level).Error
}

// Stock returns the current quantity for a SKU.
func (p *InventoryProjection) Stock(ctx context.Context, tenantID, sku string) (decimal.Decimal, error) {
	var level StockLevel
	err := p.store.db.WithContext(ctx).
		First(&level, "tenant_id = ? AND sku = ?", tenantID, sku).Error
	if err != nil {
		return decimal.Decimal{}, err
	}
	return level.Quantity, nil
}

// lockStock loads the stock row under a row lock, creating a zero row if
// absent.
func lockStock(tx *gorm.DB, tenantID, sku string) (*StockLevel, error) {
	var level StockLevel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&level, "tenant_id = ? AND sku = ?", tenantID, sku).Error
	if err == nil {
		return &level, nil
	}
	level = StockLevel{TenantID: tenantID, SKU: sku, Quantity: decimal.Zero}
	if err := tx.Create(&level).Error; err != nil {
		return nil, fmt.Errorf("create stock row %s: %w", sku, err)
	}
	return &level, nil
}

func (p *InventoryProjection) publishReply(ctx context.Context, routingKey, tenantID string, body map[string]any) {
	if p.bus == nil {
		return
	}
	evt := eventbus.New(routingKey, tenantID, body)
	if err := p.bus.Publish(ctx, eventbus.ExchangeEvents, routingKey, evt); err != nil {
		p.logger.Error("publish inventory reply failed", "routingKey", routingKey, "error", err)
	}
}
