package actions

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlaserp/backbone/pkg/rules"
)

// EmailAction sends a notification email through the tenant's configured
// mail transport.
type EmailAction struct {
	To      []string
	Subject string
	Body    string
}

// WebhookAction posts the event context to an external URL.
type WebhookAction struct {
	URL     string
	Headers map[string]string
}

// LogAction emits a structured log line carrying the event context.
type LogAction struct {
	Message string
}

// RaiseRFQAction creates a request-for-quotation in the purchase service.
type RaiseRFQAction struct {
	ProductID string
	Quantity  decimal.Decimal
	VendorID  string
}

// JournalLine is one debit/credit leg of a journal entry.
type JournalLine struct {
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Narration   string          `json:"narration,omitempty"`
}

// CreateJournalAction posts a balanced journal entry to the accounting
// service. Unbalanced entries are rejected before any network call.
type CreateJournalAction struct {
	Reference string
	Lines     []JournalLine
}

// CreateProductionJobAction creates a production job in the manufacturing
// service.
type CreateProductionJobAction struct {
	ProductID string
	Quantity  decimal.Decimal
	Priority  string
}

// Action is the typed union of everything the executor can run.
type Action interface{ kind() rules.ActionKind }

func (EmailAction) kind() rules.ActionKind               { return rules.ActionEmail }
func (WebhookAction) kind() rules.ActionKind             { return rules.ActionWebhook }
func (LogAction) kind() rules.ActionKind                 { return rules.ActionLog }
func (RaiseRFQAction) kind() rules.ActionKind            { return rules.ActionRaiseRFQ }
func (CreateJournalAction) kind() rules.ActionKind       { return rules.ActionCreateJournal }
func (CreateProductionJobAction) kind() rules.ActionKind { return rules.ActionCreateProductionJob }

// ParseAction turns a job's kind plus config into a typed Action,
// filling gaps from the event context where the config is silent
// (product_id, quantity).
func ParseAction(kind string, config, eventCtx map[string]any) (Action, error) {
	switch rules.ActionKind(kind) {
	case rules.ActionEmail:
		a := EmailAction{
			Subject: stringValue(config, "subject"),
			Body:    stringValue(config, "body"),
		}
		for _, v := range sliceValue(config, "to") {
			if s, ok := v.(string); ok && s != "" {
				a.To = append(a.To, s)
			}
		}
		if len(a.To) == 0 {
			return nil, fmt.Errorf("email action: no recipients")
		}
		return a, nil

	case rules.ActionWebhook:
		a := WebhookAction{URL: stringValue(config, "url"), Headers: map[string]string{}}
		if a.URL == "" {
			return nil, fmt.Errorf("webhook action: url is required")
		}
		if hdrs, ok := config["headers"].(map[string]any); ok {
			for k, v := range hdrs {
				if s, ok := v.(string); ok {
					a.Headers[k] = s
				}
			}
		}
		return a, nil

	case rules.ActionLog:
		return LogAction{Message: stringValue(config, "message")}, nil

	case rules.ActionRaiseRFQ:
		a := RaiseRFQAction{
			ProductID: firstString(config, eventCtx, "product_id"),
			VendorID:  stringValue(config, "vendor_id"),
		}
		if a.ProductID == "" {
			return nil, fmt.Errorf("raise_rfq action: product_id is required")
		}
		qty, err := decimalValue(config, eventCtx, "quantity")
		if err != nil {
			return nil, fmt.Errorf("raise_rfq action: %w", err)
		}
		a.Quantity = qty
		return a, nil

	case rules.ActionCreateJournal:
		a := CreateJournalAction{Reference: firstString(config, eventCtx, "reference")}
		for i, raw := range sliceValue(config, "lines") {
			lm, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("create_journal action: line %d is not an object", i)
			}
			line := JournalLine{
				AccountCode: stringValue(lm, "account_code"),
				Narration:   stringValue(lm, "narration"),
			}
			if line.AccountCode == "" {
				return nil, fmt.Errorf("create_journal action: line %d missing account_code", i)
			}
			var err error
			if line.Debit, err = decimalField(lm, "debit"); err != nil {
				return nil, fmt.Errorf("create_journal action: line %d: %w", i, err)
			}
			if line.Credit, err = decimalField(lm, "credit"); err != nil {
				return nil, fmt.Errorf("create_journal action: line %d: %w", i, err)
			}
			a.Lines = append(a.Lines, line)
		}
		if len(a.Lines) < 2 {
			return nil, fmt.Errorf("create_journal action: at least two lines required")
		}
		if err := a.checkBalanced(); err != nil {
			return nil, err
		}
		return a, nil

	case rules.ActionCreateProductionJob:
		a := CreateProductionJobAction{
			ProductID: firstString(config, eventCtx, "product_id"),
			Priority:  stringValue(config, "priority"),
		}
		if a.ProductID == "" {
			return nil, fmt.Errorf("create_production_job action: product_id is required")
		}
		qty, err := decimalValue(config, eventCtx, "quantity")
		if err != nil {
			return nil, fmt.Errorf("create_production_job action: %w", err)
		}
		a.Quantity = qty
		return a, nil
	}

	return nil, fmt.Errorf("unknown action kind %q", kind)
}

// checkBalanced verifies total debits equal total credits.
func (a CreateJournalAction) checkBalanced() error {
	var debit, credit decimal.Decimal
	for _, l := range a.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("create_journal action: unbalanced entry: debit %s != credit %s",
			debit.String(), credit.String())
	}
	return nil
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func sliceValue(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}

// firstString prefers the action config over the event context.
func firstString(config, eventCtx map[string]any, key string) string {
	if s := stringValue(config, key); s != "" {
		return s
	}
	return stringValue(eventCtx, key)
}

func decimalValue(config, eventCtx map[string]any, key string) (decimal.Decimal, error) {
	if config != nil {
		if v, ok := config[key]; ok {
			return toDecimal(key, v)
		}
	}
	if eventCtx != nil {
		if v, ok := eventCtx[key]; ok {
			return toDecimal(key, v)
		}
	}
	return decimal.Decimal{}, fmt.Errorf("%s is required", key)
}

func decimalField(m map[string]any, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, nil
	}
	return toDecimal(key, v)
}

func toDecimal(key string, v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%s has unsupported type %T", key, v)
}
