package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CanonicalJSON renders a value as its unique byte representation: keys
// sorted lexicographically, UTF-8, no insignificant whitespace. Two equal
// values always produce byte-identical output, hence identical hashes.
// encoding/json already sorts map keys and emits compact output, so the
// hash input is built as a map.
func CanonicalJSON(v map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return data, nil
}

// hashInput lists every Record field except hash itself, with occurred_at
// rendered as RFC 3339 UTC.
func hashInput(r *Record) map[string]any {
	return map[string]any{
		"sequence":        r.Sequence,
		"tenant_id":       r.TenantID,
		"user_id":         r.UserID,
		"service_name":    r.ServiceName,
		"method":          r.Method,
		"path":            r.Path,
		"status_code":     r.StatusCode,
		"request_digest":  r.RequestDigest,
		"response_digest": r.ResponseDigest,
		"occurred_at":     r.OccurredAt.UTC().Format(time.RFC3339),
		"previous_hash":   r.PreviousHash,
	}
}

// ComputeHash returns the hex SHA-256 of the record's canonical JSON,
// excluding the hash field.
func ComputeHash(r *Record) (string, error) {
	data, err := CanonicalJSON(hashInput(r))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
