package saga

import (
	"context"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
)

// Coordinators bundles every saga participant backed by one store.
type Coordinators struct {
	POS           *POSCoordinator
	Inventory     *InventoryProjection
	Accounting    *AccountingProjection
	Loyalty       *LoyaltyProjection
	Reporting     *ReportingProjection
	Purchase      *PurchaseCoordinator
	Manufacturing *ManufacturingCoordinator
}

// Bindings returns the durable queue bindings for every saga flow. Each
// participant gets its own queue so one slow projection never starves
// the others.
func (c *Coordinators) Bindings() []consumer.Binding {
	return []consumer.Binding{
		{
			Queue:    "saga.pos.coordinator",
			Patterns: []string{"pos.sale.closed"},
			Handler:  c.POS.HandleSaleClosed,
		},
		{
			Queue:    "saga.pos.replies",
			Patterns: []string{"stock.update.success", "stock.update.failed"},
			Handler: func(ctx context.Context, evt eventbus.Event) consumer.Result {
				if evt.RoutingKey == "stock.update.success" {
					return c.POS.HandleStockSuccess(ctx, evt)
				}
				return c.POS.HandleStockFailed(ctx, evt)
			},
		},
		{
			Queue:    "saga.inventory",
			Patterns: []string{"pos.sale.closed"},
			Handler:  c.Inventory.HandleSaleClosed,
		},
		{
			Queue:    "saga.inventory.purchases",
			Patterns: []string{"purchase.order.received"},
			Handler:  c.Inventory.HandlePurchaseReceived,
		},
		{
			Queue:    "saga.accounting",
			Patterns: []string{"pos.sale.closed"},
			Handler:  c.Accounting.HandleSaleClosed,
		},
		{
			Queue:    "saga.accounting.payroll",
			Patterns: []string{"hrms.payroll.finalized"},
			Handler:  c.Accounting.HandlePayrollFinalized,
		},
		{
			Queue:    "saga.loyalty",
			Patterns: []string{"pos.sale.closed"},
			Handler:  c.Loyalty.HandleSaleClosed,
		},
		{
			Queue:    "saga.reporting",
			Patterns: []string{"pos.sale.closed"},
			Handler:  c.Reporting.HandleSaleClosed,
		},
		{
			Queue:    "saga.purchase.coordinator",
			Patterns: []string{"purchase.order.received"},
			Handler:  c.Purchase.HandleOrderReceived,
		},
		{
			Queue:    "saga.purchase.replies",
			Patterns: []string{"stock.update.success", "stock.update.failed"},
			Handler: func(ctx context.Context, evt eventbus.Event) consumer.Result {
				if evt.RoutingKey == "stock.update.success" {
					return c.Purchase.HandleStockSuccess(ctx, evt)
				}
				return c.Purchase.HandleStockFailed(ctx, evt)
			},
		},
		{
			Queue:    "saga.manufacturing",
			Patterns: []string{"production.order.completed"},
			Handler:  c.Manufacturing.HandleOrderCompleted,
		},
		{
			Queue:    "saga.manufacturing.qc",
			Patterns: []string{"quality.inspection.completed"},
			Handler:  c.Manufacturing.HandleInspectionCompleted,
		},
	}
}
