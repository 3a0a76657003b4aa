// Package eventbus provides durable publish/consume over an AMQP topic
// broker. Two exchanges exist: "events" for the cross-service event flow
// and "audit_logs" for audit fan-in.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// ExchangeEvents is the topic exchange carrying all domain events.
	ExchangeEvents = "events"

	// ExchangeAuditLogs is the topic exchange for audit record fan-in.
	ExchangeAuditLogs = "audit_logs"
)

// Event is the envelope every message on the bus travels in. The routing
// key encodes <origin>.<aggregate>.<verb>, e.g. "pos.sale.closed". Bodies
// of tenant-scoped events must carry the tenant id.
type Event struct {
	Name       string         `json:"event_name"`
	RoutingKey string         `json:"routing_key"`
	TenantID   string         `json:"tenant_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Body       map[string]any `json:"body"`
}

// New builds an event whose name equals its routing key, stamped with the
// current time.
func New(routingKey, tenantID string, body map[string]any) Event {
	return Event{
		Name:       routingKey,
		RoutingKey: routingKey,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Body:       body,
	}
}

// Encode serializes the event to its wire form.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.RoutingKey, err)
	}
	return data, nil
}

// Decode parses a wire-form event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
