// Package ledger implements the tamper-evident audit trail: a per-tenant
// hash-chain over mutating HTTP requests, an append path serialized by a
// non-blocking row lock, and a verifier that rechecks chain integrity.
package ledger

import (
	"strings"
	"time"
)

// ZeroHash is the previous_hash of the first record in a tenant's chain.
var ZeroHash = strings.Repeat("0", 64)

// Record is one link in a tenant's audit chain. Records are append-only:
// never updated, never deleted.
type Record struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID       string    `gorm:"column:tenant_id;uniqueIndex:idx_ledger_tenant_seq,priority:1;not null"`
	Sequence       int64     `gorm:"column:sequence;uniqueIndex:idx_ledger_tenant_seq,priority:2;not null"`
	UserID         string    `gorm:"column:user_id"`
	ServiceName    string    `gorm:"column:service_name;not null"`
	Method         string    `gorm:"column:method;not null"`
	Path           string    `gorm:"column:path;not null"`
	StatusCode     int       `gorm:"column:status_code"`
	RequestDigest  string    `gorm:"column:request_digest"`
	ResponseDigest string    `gorm:"column:response_digest"`
	OccurredAt     time.Time `gorm:"column:occurred_at;not null"`
	PreviousHash   string    `gorm:"column:previous_hash;type:char(64);not null"`
	Hash           string    `gorm:"column:hash;type:char(64);not null"`
}

// TableName returns the GORM table name.
func (Record) TableName() string { return "audit_records" }

// DigestLimit caps request/response digests: the first 2000 bytes of the
// body, with invalid UTF-8 sequences replaced. Digests are stored
// verbatim, not hashed again.
const DigestLimit = 2000

// Digest truncates a body to the digest format.
func Digest(body []byte) string {
	if len(body) > DigestLimit {
		body = body[:DigestLimit]
	}
	return strings.ToValidUTF8(string(body), "�")
}
