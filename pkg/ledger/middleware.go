package ledger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/atlaserp/backbone/pkg/eventbus"
	"github.com/atlaserp/backbone/pkg/identity"
)

// WriterConfig controls the audit middleware.
type WriterConfig struct {
	// ServiceName is recorded on every audit record.
	ServiceName string

	// Exempt reports whether a path skips auditing. Defaults to the
	// identity package's exempt list.
	Exempt func(path string) bool

	// Strict surfaces 503 to the caller when the chain append loses the
	// contention race after all retries. The response is buffered until
	// the append lands, so strict mode costs one extra copy per mutating
	// request. When false (default) the response streams through and an
	// append miss is only logged.
	Strict bool

	// ContentionRetries bounds the retry budget on ErrLedgerContention.
	// Default 3.
	ContentionRetries int

	// Publisher, when set, fans each record out to the audit_logs
	// exchange. The publish is fire-and-forget: it never delays or fails
	// the observed request.
	Publisher eventbus.Publisher

	Logger *slog.Logger
}

// responseCapture wraps http.ResponseWriter to capture the status code and
// a bounded copy of the response body. In buffered mode nothing reaches the
// underlying writer until flush; strict auditing needs that so a lost
// append can still turn into a 503.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
	buffered   bool
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	if !rc.buffered {
		rc.ResponseWriter.WriteHeader(code)
	}
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	if rc.buffered {
		return rc.body.Write(b)
	}
	if rc.body.Len() < DigestLimit {
		remain := DigestLimit - rc.body.Len()
		if remain > len(b) {
			remain = len(b)
		}
		rc.body.Write(b[:remain])
	}
	return rc.ResponseWriter.Write(b)
}

// flush replays a buffered response to the underlying writer.
func (rc *responseCapture) flush() {
	rc.ResponseWriter.WriteHeader(rc.statusCode)
	_, _ = rc.ResponseWriter.Write(rc.body.Bytes())
}

// Middleware observes every completed mutating request (POST, PUT, PATCH,
// DELETE) and appends a record to the tenant's hash-chain. Failure to
// persist never fails the observed request.
func Middleware(store *Store, cfg *WriterConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &WriterConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exempt := cfg.Exempt
	if exempt == nil {
		exempt = identity.DefaultConfig().IsExempt
	}
	retries := cfg.ContentionRetries
	if retries <= 0 {
		retries = 3
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) || exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tc, hasTenant := identity.FromContext(r.Context())
			if !hasTenant {
				// Unauthenticated mutating requests are rejected by the
				// gate; there is no tenant chain to append to.
				next.ServeHTTP(w, r)
				return
			}

			// A bounded copy of the request body; the handler reads an
			// untouched replacement.
			var reqDigest string
			if r.Body != nil {
				reqBytes, err := io.ReadAll(r.Body)
				if err == nil {
					reqDigest = Digest(reqBytes)
					r.Body = io.NopCloser(bytes.NewReader(reqBytes))
				}
			}

			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				buffered:       cfg.Strict,
			}
			next.ServeHTTP(capture, r)

			draft := &Record{
				TenantID:       tc.TenantID,
				UserID:         tc.UserID,
				ServiceName:    cfg.ServiceName,
				Method:         r.Method,
				Path:           r.URL.Path,
				StatusCode:     capture.statusCode,
				RequestDigest:  reqDigest,
				ResponseDigest: Digest(capture.body.Bytes()),
				OccurredAt:     time.Now().UTC(),
			}

			rec, err := appendWithRetry(r.Context(), store, draft, retries)
			if err != nil {
				logger.Error("audit append failed",
					"tenantID", tc.TenantID, "path", r.URL.Path, "error", err)
				if cfg.Strict {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte(`{"error":"audit_unavailable","message":"audit ledger contention, retry the request"}`))
					return
				}
				return
			}
			if cfg.Strict {
				capture.flush()
			}

			if cfg.Publisher != nil {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					evt := eventbus.New("audit.record.appended", rec.TenantID, map[string]any{
						"sequence":     rec.Sequence,
						"service_name": rec.ServiceName,
						"method":       rec.Method,
						"path":         rec.Path,
						"status_code":  rec.StatusCode,
						"hash":         rec.Hash,
					})
					_ = cfg.Publisher.Publish(ctx, eventbus.ExchangeAuditLogs, evt.RoutingKey, evt)
				}()
			}
		})
	}
}

// appendWithRetry retries only on contention, with short jittered sleeps.
func appendWithRetry(ctx context.Context, store *Store, draft *Record, budget int) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		rec, err := store.Append(ctx, draft)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !errors.Is(err, ErrLedgerContention) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(10+rand.Intn(40)) * time.Millisecond):
		}
	}
	return nil, lastErr
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
