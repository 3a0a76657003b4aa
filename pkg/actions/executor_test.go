package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaserp/backbone/pkg/registry"
	"github.com/atlaserp/backbone/pkg/rules"
)

func TestParseActionJournalMustBalance(t *testing.T) {
	config := map[string]any{
		"reference": "PAYROLL-2026-03",
		"lines": []any{
			map[string]any{"account_code": "5100", "debit": float64(1000)},
			map[string]any{"account_code": "2100", "credit": float64(900)},
		},
	}
	_, err := ParseAction("create_journal", config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced")

	config["lines"] = []any{
		map[string]any{"account_code": "5100", "debit": float64(1000)},
		map[string]any{"account_code": "2100", "credit": float64(1000)},
	}
	action, err := ParseAction("create_journal", config, nil)
	require.NoError(t, err)
	journal := action.(CreateJournalAction)
	assert.Equal(t, "PAYROLL-2026-03", journal.Reference)
	assert.Len(t, journal.Lines, 2)
}

func TestParseActionRFQFillsFromEventContext(t *testing.T) {
	action, err := ParseAction("raise_rfq",
		map[string]any{"quantity": float64(100)},
		map[string]any{"product_id": "P-42"})
	require.NoError(t, err)
	rfq := action.(RaiseRFQAction)
	assert.Equal(t, "P-42", rfq.ProductID)
	assert.Equal(t, "100", rfq.Quantity.String())
}

func TestParseActionDecimalFromString(t *testing.T) {
	action, err := ParseAction("raise_rfq",
		map[string]any{"quantity": "12.50", "product_id": "P"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "12.5", action.(RaiseRFQAction).Quantity.String())
}

func TestParseActionRejectsUnknownKind(t *testing.T) {
	_, err := ParseAction("teleport", nil, nil)
	assert.Error(t, err)
}

func TestParseActionEmailRequiresRecipients(t *testing.T) {
	_, err := ParseAction("email", map[string]any{"subject": "hi"}, nil)
	assert.Error(t, err)

	action, err := ParseAction("email", map[string]any{
		"to": []any{"ops@example.com"}, "subject": "hi", "body": "b",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, action.(EmailAction).To)
}

type fakeSender struct {
	sent int32
	last struct {
		tenantID string
		to       []string
		subject  string
	}
}

func (f *fakeSender) Send(_ context.Context, tenantID string, to []string, subject, _ string) error {
	atomic.AddInt32(&f.sent, 1)
	f.last.tenantID = tenantID
	f.last.to = to
	f.last.subject = subject
	return nil
}

func TestExecuteEmail(t *testing.T) {
	sender := &fakeSender{}
	exec := NewExecutor(sender, nil, nil, nil)

	err := exec.Execute(context.Background(), &ActionJob{
		TenantID: "T",
		Kind:     "email",
		Config: rules.JSONMap{
			"to": []any{"ops@example.com"}, "subject": "low stock", "body": "reorder",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), sender.sent)
	assert.Equal(t, "T", sender.last.tenantID)
	assert.Equal(t, "low stock", sender.last.subject)
}

func TestExecuteWebhook(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewExecutor(nil, NewWebhookCaller(), nil, nil)
	err := exec.Execute(context.Background(), &ActionJob{
		TenantID: "T",
		RuleID:   "R",
		Kind:     "webhook",
		Config: rules.JSONMap{
			"url":     srv.URL,
			"headers": map[string]any{"X-Token": "secret"},
		},
		Context: rules.JSONMap{"quantity_remaining": float64(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, "T", received["tenant_id"])
	assert.Equal(t, float64(7), received["context"].(map[string]any)["quantity_remaining"])
}

func TestExecuteWebhookRejected4xxNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	exec := NewExecutor(nil, NewWebhookCaller(), nil, nil)
	err := exec.Execute(context.Background(), &ActionJob{
		Kind:   "webhook",
		Config: rules.JSONMap{"url": srv.URL},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestExecuteRaiseRFQPostsToPurchase(t *testing.T) {
	var gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := registry.NewClient()
	client.BaseURLOverride = srv.URL
	exec := NewExecutor(nil, nil, NewDownstream(client), nil)

	err := exec.Execute(context.Background(), &ActionJob{
		TenantID: "T",
		Kind:     "raise_rfq",
		Config:   rules.JSONMap{"quantity": float64(100)},
		Context:  rules.JSONMap{"product_id": "P"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/rfq/", gotPath)
	assert.Equal(t, "P", payload["product_id"])
	assert.Equal(t, "100", payload["quantity"])
	assert.Equal(t, "T", payload["tenant_id"])
}

func TestExecuteLogActionNeedsNoDependencies(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, nil)
	err := exec.Execute(context.Background(), &ActionJob{
		TenantID: "T",
		Kind:     "log",
		Config:   rules.JSONMap{"message": "rule fired"},
	})
	assert.NoError(t, err)
}

func TestExecuteMissingDependencyFailsCleanly(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, nil)
	err := exec.Execute(context.Background(), &ActionJob{
		Kind:   "email",
		Config: rules.JSONMap{"to": []any{"a@b.c"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mail sender")
}

func TestSMTPSenderUsesTenantSettings(t *testing.T) {
	store := setupTestStore(t)
	sender := NewSMTPSender(store.db)
	require.NoError(t, sender.AutoMigrate())
	require.NoError(t, store.db.Create(&MailSettings{
		TenantID: "T", Host: "mail.example.com", Port: 2525,
		Username: "robot", Password: "pw", From: "erp@example.com",
	}).Error)

	var gotAddr, gotFrom, gotMsg string
	var gotTo []string
	sender.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	err := sender.Send(context.Background(), "T",
		[]string{"ops@example.com"}, "low stock", "reorder now")
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:2525", gotAddr)
	assert.Equal(t, "erp@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: low stock")
	assert.Contains(t, gotMsg, "reorder now")
}

func TestSMTPSenderNoSettingsNoFallback(t *testing.T) {
	store := setupTestStore(t)
	sender := NewSMTPSender(store.db)
	require.NoError(t, sender.AutoMigrate())

	t.Setenv("SMTP_HOST", "")
	err := sender.Send(context.Background(), "unknown-tenant",
		[]string{"ops@example.com"}, "s", "b")
	assert.Error(t, err)
}
