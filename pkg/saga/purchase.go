package saga

import (
	"context"
	"log/slog"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
	"github.com/atlaserp/backbone/pkg/registry"
)

const sagaKindPurchase = "purchase_receipt"

// PurchaseCoordinator drives the purchase-receipt saga: a received PO
// opens a record; the inventory reply settles it. A failed increment
// cancels the PO with the reason.
type PurchaseCoordinator struct {
	store  *Store
	client *registry.Client
	logger *slog.Logger
}

// NewPurchaseCoordinator creates the coordinator.
func NewPurchaseCoordinator(store *Store, client *registry.Client, logger *slog.Logger) *PurchaseCoordinator {
	if client == nil {
		client = registry.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PurchaseCoordinator{store: store, client: client, logger: logger}
}

// HandleOrderReceived opens the saga record for the PO reference.
func (c *PurchaseCoordinator) HandleOrderReceived(ctx context.Context, evt eventbus.Event) consumer.Result {
	poRef, _ := evt.Body["po_reference"].(string)
	if poRef == "" {
		return consumer.Drop
	}
	if _, err := c.store.EnsureRecord(ctx, evt.TenantID, poRef, sagaKindPurchase); err != nil {
		c.logger.Error("open purchase saga failed", "poReference", poRef, "error", err)
		return consumer.Retry
	}
	if err := c.store.SetState(ctx, poRef, sagaKindPurchase, StateProcessing, ""); err != nil {
		return consumer.Retry
	}
	return consumer.Ok
}

// HandleStockSuccess settles the saga for the PO.
func (c *PurchaseCoordinator) HandleStockSuccess(ctx context.Context, evt eventbus.Event) consumer.Result {
	poRef, _ := evt.Body["order_reference"].(string)
	if poRef == "" {
		return consumer.Drop
	}
	rec, err := c.store.GetRecord(ctx, poRef, sagaKindPurchase)
	if err != nil {
		return consumer.Retry
	}
	if rec == nil {
		return consumer.Ok // Reply belongs to a different saga kind.
	}
	if err := c.store.SetState(ctx, poRef, sagaKindPurchase, StateSucceeded, ""); err != nil {
		return consumer.Retry
	}
	return consumer.Ok
}

// HandleStockFailed cancels the PO with the failure reason.
func (c *PurchaseCoordinator) HandleStockFailed(ctx context.Context, evt eventbus.Event) consumer.Result {
	poRef, _ := evt.Body["order_reference"].(string)
	if poRef == "" {
		return consumer.Drop
	}
	rec, err := c.store.GetRecord(ctx, poRef, sagaKindPurchase)
	if err != nil {
		return consumer.Retry
	}
	if rec == nil {
		return consumer.Ok
	}

	reason, _ := evt.Body["error"].(string)
	if err := c.store.SetState(ctx, poRef, sagaKindPurchase, StateFailed, reason); err != nil {
		return consumer.Retry
	}

	err = c.client.PostJSON(ctx, "purchase", "/orders/status/", map[string]any{
		"tenant_id":    evt.TenantID,
		"po_reference": poRef,
		"status":       "cancelled",
		"reason":       reason,
	})
	if err != nil {
		c.logger.Error("cancel purchase order failed", "poReference", poRef, "error", err)
		return consumer.Retry
	}

	c.logger.Warn("purchase receipt saga failed, PO cancelled",
		"poReference", poRef, "tenantID", evt.TenantID, "reason", reason)
	return consumer.Ok
}
