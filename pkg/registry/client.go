package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every service-to-service call.
const DefaultTimeout = 5 * time.Second

// DownstreamError reports a non-2xx response from a sibling service. It is
// surfaced to callers as a 502 when user-facing, or drives saga
// compensation when internal.
type DownstreamError struct {
	Service    string
	Path       string
	StatusCode int
	Body       string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s%s returned %d: %s", e.Service, e.Path, e.StatusCode, e.Body)
}

// Client is a small typed HTTP client over the service registry. Every
// call carries an explicit timeout.
type Client struct {
	httpClient *http.Client
	// BaseURLOverride short-circuits registry resolution; used by tests
	// to point at an httptest server.
	BaseURLOverride string
}

// NewClient creates a Client with the default timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: DefaultTimeout}}
}

// NewClientWithTimeout creates a Client with a custom timeout.
func NewClientWithTimeout(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// PostJSON posts a JSON payload to <service api root><path> and decodes
// nothing: callers that need the response body use PostJSONDecode.
func (c *Client) PostJSON(ctx context.Context, service, path string, payload any) error {
	return c.PostJSONDecode(ctx, service, path, payload, nil)
}

// PostJSONDecode posts a JSON payload and, when out is non-nil, decodes
// the JSON response into it. Non-2xx responses become a DownstreamError.
func (c *Client) PostJSONDecode(ctx context.Context, service, path string, payload, out any) error {
	root := c.BaseURLOverride
	if root == "" {
		var err error
		root, err = APIURL(service)
		if err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s%s payload: %w", service, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, root+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s%s request: %w", service, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s%s: %w", service, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DownstreamError{
			Service:    service,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(excerpt),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s%s response: %w", service, path, err)
		}
	}
	return nil
}
