package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookTimeout bounds a single webhook delivery attempt.
const WebhookTimeout = 10 * time.Second

// WebhookCaller posts JSON payloads to external endpoints. 5xx responses
// and transport errors are retried with exponential backoff; 4xx responses
// fail immediately since retrying a rejected payload cannot help.
type WebhookCaller struct {
	httpClient *http.Client
	maxRetries uint64
}

// NewWebhookCaller creates a caller with the default timeout and up to
// three delivery retries.
func NewWebhookCaller() *WebhookCaller {
	return &WebhookCaller{
		httpClient: &http.Client{Timeout: WebhookTimeout},
		maxRetries: 3,
	}
}

// Call delivers the payload to the webhook URL.
func (w *WebhookCaller) Call(ctx context.Context, action WebhookAction, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range action.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("deliver webhook to %s: %w", action.URL, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook %s returned %d", action.URL, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook %s rejected with %d", action.URL, resp.StatusCode))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.maxRetries), ctx)
	return backoff.Retry(operation, bo)
}
