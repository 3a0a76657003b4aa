package actions

import (
	"context"

	"github.com/atlaserp/backbone/pkg/registry"
)

// Downstream posts typed action intents to sibling services through the
// service registry.
type Downstream struct {
	client *registry.Client
}

// NewDownstream creates a Downstream using the given registry client.
func NewDownstream(client *registry.Client) *Downstream {
	if client == nil {
		client = registry.NewClient()
	}
	return &Downstream{client: client}
}

// RaiseRFQ creates a request-for-quotation in the purchase service.
func (d *Downstream) RaiseRFQ(ctx context.Context, tenantID string, a RaiseRFQAction) error {
	payload := map[string]any{
		"tenant_id":  tenantID,
		"product_id": a.ProductID,
		"quantity":   a.Quantity.String(),
		"source":     "automation_rule",
	}
	if a.VendorID != "" {
		payload["vendor_id"] = a.VendorID
	}
	return d.client.PostJSON(ctx, "purchase", "/rfq/", payload)
}

// CreateJournal posts a balanced journal entry to the accounting service.
func (d *Downstream) CreateJournal(ctx context.Context, tenantID string, a CreateJournalAction) error {
	if err := a.checkBalanced(); err != nil {
		return err
	}
	lines := make([]map[string]any, 0, len(a.Lines))
	for _, l := range a.Lines {
		lines = append(lines, map[string]any{
			"account_code": l.AccountCode,
			"debit":        l.Debit.String(),
			"credit":       l.Credit.String(),
			"narration":    l.Narration,
		})
	}
	return d.client.PostJSON(ctx, "accounting", "/journal-entries/", map[string]any{
		"tenant_id": tenantID,
		"reference": a.Reference,
		"lines":     lines,
		"source":    "automation_rule",
	})
}

// CreateProductionJob posts a production-job intent to the manufacturing
// service.
func (d *Downstream) CreateProductionJob(ctx context.Context, tenantID string, a CreateProductionJobAction) error {
	payload := map[string]any{
		"tenant_id":  tenantID,
		"product_id": a.ProductID,
		"quantity":   a.Quantity.String(),
		"source":     "automation_rule",
	}
	if a.Priority != "" {
		payload["priority"] = a.Priority
	}
	return d.client.PostJSON(ctx, "manufacturing", "/production-jobs/", payload)
}
