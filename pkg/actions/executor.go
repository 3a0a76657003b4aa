package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Executor runs a parsed action. Each dependency is optional; executing a
// kind whose dependency is missing fails the job with a clear error
// rather than panicking.
type Executor struct {
	sender     Sender
	webhooks   *WebhookCaller
	downstream *Downstream
	logger     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(sender Sender, webhooks *WebhookCaller, downstream *Downstream, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sender: sender, webhooks: webhooks, downstream: downstream, logger: logger}
}

// Execute parses and runs one job.
func (e *Executor) Execute(ctx context.Context, job *ActionJob) error {
	action, err := ParseAction(job.Kind, job.Config, job.Context)
	if err != nil {
		return err
	}

	switch a := action.(type) {
	case EmailAction:
		if e.sender == nil {
			return fmt.Errorf("email action: no mail sender configured")
		}
		subject := renderTemplate(a.Subject, job.Context)
		body := renderTemplate(a.Body, job.Context)
		return e.sender.Send(ctx, job.TenantID, a.To, subject, body)

	case WebhookAction:
		if e.webhooks == nil {
			return fmt.Errorf("webhook action: no webhook caller configured")
		}
		payload := map[string]any{
			"tenant_id": job.TenantID,
			"rule_id":   job.RuleID,
			"context":   map[string]any(job.Context),
		}
		return e.webhooks.Call(ctx, a, payload)

	case LogAction:
		e.logger.Warn("rule action fired",
			"message", a.Message,
			"tenant_id", job.TenantID,
			"rule_id", job.RuleID,
			"context", map[string]any(job.Context))
		return nil

	case RaiseRFQAction:
		if e.downstream == nil {
			return fmt.Errorf("raise_rfq action: no downstream client configured")
		}
		return e.downstream.RaiseRFQ(ctx, job.TenantID, a)

	case CreateJournalAction:
		if e.downstream == nil {
			return fmt.Errorf("create_journal action: no downstream client configured")
		}
		return e.downstream.CreateJournal(ctx, job.TenantID, a)

	case CreateProductionJobAction:
		if e.downstream == nil {
			return fmt.Errorf("create_production_job action: no downstream client configured")
		}
		return e.downstream.CreateProductionJob(ctx, job.TenantID, a)
	}

	return fmt.Errorf("no executor for action kind %q", job.Kind)
}

// renderTemplate substitutes {{key}} placeholders with values from the
// event context. Unknown keys are left as-is.
func renderTemplate(s string, ctx map[string]any) string {
	if ctx == nil || !strings.Contains(s, "{{") {
		return s
	}
	for k, v := range ctx {
		s = strings.ReplaceAll(s, "{{"+k+"}}", fmt.Sprint(v))
	}
	return s
}
