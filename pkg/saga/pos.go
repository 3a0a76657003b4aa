package saga

import (
	"context"
	"log/slog"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
	"github.com/atlaserp/backbone/pkg/registry"
)

// POSCoordinator drives the sale-closure saga: it opens a record when a
// sale closes and settles it on the inventory reply. On failure the order
// is flipped to an error state and an alert event goes out; nothing is
// auto-reversed, operator review is required.
type POSCoordinator struct {
	store  *Store
	client *registry.Client
	bus    eventbus.Publisher
	logger *slog.Logger
}

const sagaKindPOSSale = "pos_sale"

// NewPOSCoordinator creates the coordinator.
func NewPOSCoordinator(store *Store, client *registry.Client, bus eventbus.Publisher, logger *slog.Logger) *POSCoordinator {
	if client == nil {
		client = registry.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &POSCoordinator{store: store, client: client, bus: bus, logger: logger}
}

// HandleSaleClosed opens (or re-finds) the saga record for the order.
func (c *POSCoordinator) HandleSaleClosed(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["order_number"].(string)
	if orderNumber == "" {
		c.logger.Error("pos.sale.closed without order_number", "tenantID", evt.TenantID)
		return consumer.Drop
	}

	if _, err := c.store.EnsureRecord(ctx, evt.TenantID, orderNumber, sagaKindPOSSale); err != nil {
		c.logger.Error("open pos saga failed", "orderNumber", orderNumber, "error", err)
		return consumer.Retry
	}
	if err := c.store.SetState(ctx, orderNumber, sagaKindPOSSale, StateProcessing, ""); err != nil {
		c.logger.Error("mark pos saga processing failed", "orderNumber", orderNumber, "error", err)
		return consumer.Retry
	}
	return consumer.Ok
}

// HandleStockSuccess settles the saga.
func (c *POSCoordinator) HandleStockSuccess(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderRef, _ := evt.Body["order_reference"].(string)
	if orderRef == "" {
		return consumer.Drop
	}
	rec, err := c.store.GetRecord(ctx, orderRef, sagaKindPOSSale)
	if err != nil {
		return consumer.Retry
	}
	if rec == nil {
		return consumer.Ok // Reply belongs to a different saga kind.
	}
	if err := c.store.SetState(ctx, orderRef, sagaKindPOSSale, StateSucceeded, ""); err != nil {
		c.logger.Error("settle pos saga failed", "orderReference", orderRef, "error", err)
		return consumer.Retry
	}
	c.logger.Info("pos sale saga succeeded", "orderReference", orderRef, "tenantID", evt.TenantID)
	return consumer.Ok
}

// HandleStockFailed compensates: the order is held in an error state with
// the failure reason, and an alert event is published for operators.
func (c *POSCoordinator) HandleStockFailed(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderRef, _ := evt.Body["order_reference"].(string)
	if orderRef == "" {
		return consumer.Drop
	}
	rec, err := c.store.GetRecord(ctx, orderRef, sagaKindPOSSale)
	if err != nil {
		return consumer.Retry
	}
	if rec == nil {
		return consumer.Ok
	}

	reason, _ := evt.Body["error"].(string)
	if reason == "" {
		reason = "stock update failed"
	}

	note := "compensated: " + reason
	if err := c.store.SetState(ctx, orderRef, sagaKindPOSSale, StateFailed, note); err != nil {
		c.logger.Error("fail pos saga failed", "orderReference", orderRef, "error", err)
		return consumer.Retry
	}

	// Flip the order in the POS service. A downstream error here is
	// retried; the sticky saga state keeps the retry idempotent.
	err = c.client.PostJSON(ctx, "pos", "/orders/status/", map[string]any{
		"tenant_id":    evt.TenantID,
		"order_number": orderRef,
		"status":       "error",
		"note":         note,
	})
	if err != nil {
		c.logger.Error("flip pos order to error failed", "orderReference", orderRef, "error", err)
		return consumer.Retry
	}

	if c.bus != nil {
		alert := eventbus.New("pos.sale.held", evt.TenantID, map[string]any{
			"order_number": orderRef,
			"reason":       reason,
		})
		if err := c.bus.Publish(ctx, eventbus.ExchangeEvents, alert.RoutingKey, alert); err != nil {
			c.logger.Error("publish pos.sale.held failed", "orderReference", orderRef, "error", err)
		}
	}

	c.logger.Warn("pos sale saga failed, order held",
		"orderReference", orderRef, "tenantID", evt.TenantID, "reason", reason)
	return consumer.Ok
}
