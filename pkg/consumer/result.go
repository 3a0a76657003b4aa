// Package consumer implements the long-running worker runtime: durable
// queues bound to routing-key patterns, prefetch=1 dispatch, an ack policy
// driven by handler results, and reconnection with exponential backoff.
package consumer

import (
	"context"

	"github.com/atlaserp/backbone/pkg/eventbus"
)

// Result tells the runtime what to do with a delivery after the handler
// returns.
type Result int

const (
	// Ok acknowledges the delivery.
	Ok Result = iota

	// Retry nacks the delivery with requeue while retry budget remains,
	// then dead-letters it.
	Retry

	// Drop acknowledges the delivery and records it to the dead-letter
	// sink. Used for permanently unprocessable messages.
	Drop
)

// HandlerFunc processes one decoded event. Handlers must be idempotent:
// the runtime gives at-least-once delivery, never exactly-once.
type HandlerFunc func(ctx context.Context, evt eventbus.Event) Result

// Binding attaches a handler to a durable queue bound to one or more
// routing-key patterns ("*" matches one segment, "#" matches many).
type Binding struct {
	Queue      string
	Exchange   string // defaults to eventbus.ExchangeEvents
	Patterns   []string
	Handler    HandlerFunc
	MaxRetries int // defaults to 3
}

func (b Binding) exchange() string {
	if b.Exchange != "" {
		return b.Exchange
	}
	return eventbus.ExchangeEvents
}

func (b Binding) maxRetries() int {
	if b.MaxRetries > 0 {
		return b.MaxRetries
	}
	return 3
}
