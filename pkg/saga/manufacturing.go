package saga

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
	"github.com/atlaserp/backbone/pkg/registry"
)

const sagaKindQuality = "manufacturing_qc"

// ManufacturingCoordinator drives the production-quality saga: a
// completed production order requests a QC inspection; a PASSED
// inspection releases the output, a REJECTED one sends the order to
// rework and escalates.
type ManufacturingCoordinator struct {
	store  *Store
	client *registry.Client
	bus    eventbus.Publisher
	logger *slog.Logger
}

// NewManufacturingCoordinator creates the coordinator.
func NewManufacturingCoordinator(store *Store, client *registry.Client, bus eventbus.Publisher, logger *slog.Logger) *ManufacturingCoordinator {
	if client == nil {
		client = registry.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ManufacturingCoordinator{store: store, client: client, bus: bus, logger: logger}
}

// HandleOrderCompleted opens the QC saga and requests an inspection.
func (c *ManufacturingCoordinator) HandleOrderCompleted(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["production_order"].(string)
	if orderNumber == "" {
		return consumer.Drop
	}

	if _, err := c.store.EnsureRecord(ctx, evt.TenantID, orderNumber, sagaKindQuality); err != nil {
		c.logger.Error("open qc saga failed", "productionOrder", orderNumber, "error", err)
		return consumer.Retry
	}
	if err := c.store.SetState(ctx, orderNumber, sagaKindQuality, StateProcessing, ""); err != nil {
		return consumer.Retry
	}

	ran, err := c.store.StepOnce(ctx, orderNumber, "qc_requested", func(tx *gorm.DB) error { return nil })
	if err != nil {
		return consumer.Retry
	}
	if ran {
		c.publish(ctx, "production.qc_requested", evt.TenantID, map[string]any{
			"production_order": orderNumber,
			"product_id":       evt.Body["product_id"],
			"quantity":         evt.Body["quantity"],
		})
	}
	return consumer.Ok
}

// HandleInspectionCompleted settles the saga on the QC verdict.
func (c *ManufacturingCoordinator) HandleInspectionCompleted(ctx context.Context, evt eventbus.Event) consumer.Result {
	orderNumber, _ := evt.Body["production_order"].(string)
	if orderNumber == "" {
		return consumer.Drop
	}
	status, _ := evt.Body["status"].(string)

	switch status {
	case "PASSED":
		if err := c.store.SetState(ctx, orderNumber, sagaKindQuality, StateSucceeded, ""); err != nil {
			return consumer.Retry
		}
		ran, err := c.store.StepOnce(ctx, orderNumber, "output_released", func(tx *gorm.DB) error { return nil })
		if err != nil {
			return consumer.Retry
		}
		if ran {
			c.publish(ctx, "production.output_created", evt.TenantID, map[string]any{
				"production_order": orderNumber,
			})
		}
		return consumer.Ok

	case "REJECTED":
		reason, _ := evt.Body["reason"].(string)
		if err := c.store.SetState(ctx, orderNumber, sagaKindQuality, StateFailed, reason); err != nil {
			return consumer.Retry
		}

		err := c.client.PostJSON(ctx, "manufacturing", "/production-orders/status/", map[string]any{
			"tenant_id":        evt.TenantID,
			"production_order": orderNumber,
			"status":           "REWORK",
			"reason":           reason,
		})
		if err != nil {
			c.logger.Error("send production order to rework failed",
				"productionOrder", orderNumber, "error", err)
			return consumer.Retry
		}

		ran, err := c.store.StepOnce(ctx, orderNumber, "defect_escalated", func(tx *gorm.DB) error { return nil })
		if err != nil {
			return consumer.Retry
		}
		if ran {
			c.publish(ctx, "manufacturing.defect_escalation", evt.TenantID, map[string]any{
				"production_order": orderNumber,
				"reason":           reason,
			})
		}
		c.logger.Warn("production order sent to rework",
			"productionOrder", orderNumber, "tenantID", evt.TenantID, "reason", reason)
		return consumer.Ok
	}

	c.logger.Error("unknown inspection status", "productionOrder", orderNumber, "status", status)
	return consumer.Drop
}

func (c *ManufacturingCoordinator) publish(ctx context.Context, routingKey, tenantID string, body map[string]any) {
	if c.bus == nil {
		return
	}
	evt := eventbus.New(routingKey, tenantID, body)
	if err := c.bus.Publish(ctx, eventbus.ExchangeEvents, routingKey, evt); err != nil {
		c.logger.Error("publish failed", "routingKey", routingKey, "error", err)
	}
}
