package eventbus

import (
	"log/slog"
	"sync"
)

// outboxEntry is a publish that could not reach the broker.
type outboxEntry struct {
	Exchange   string
	RoutingKey string
	Event      Event
}

// Outbox is a bounded in-memory buffer for events that failed to publish.
// When the buffer is full the oldest entry is dropped with an error log:
// the producer fails open rather than blocking its caller.
type Outbox struct {
	mu      sync.Mutex
	entries []outboxEntry
	cap     int
	logger  *slog.Logger
}

// NewOutbox creates an outbox holding at most capacity entries.
func NewOutbox(capacity int, logger *slog.Logger) *Outbox {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{cap: capacity, logger: logger}
}

// Add buffers a failed publish.
func (o *Outbox) Add(exchange, routingKey string, evt Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) >= o.cap {
		dropped := o.entries[0]
		o.entries = o.entries[1:]
		o.logger.Error("outbox overflow, dropping oldest event",
			"routingKey", dropped.RoutingKey, "capacity", o.cap)
	}
	o.entries = append(o.entries, outboxEntry{Exchange: exchange, RoutingKey: routingKey, Event: evt})
}

// Len returns the number of buffered entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Drain republishes buffered entries through fn, stopping at the first
// failure. Entries that fail stay buffered in order.
func (o *Outbox) Drain(fn func(exchange, routingKey string, evt Event) error) {
	o.mu.Lock()
	pending := o.entries
	o.entries = nil
	o.mu.Unlock()

	for i, entry := range pending {
		if err := fn(entry.Exchange, entry.RoutingKey, entry.Event); err != nil {
			o.mu.Lock()
			o.entries = append(pending[i:], o.entries...)
			o.mu.Unlock()
			return
		}
	}
}
