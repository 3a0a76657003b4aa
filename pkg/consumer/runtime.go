package consumer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/atlaserp/backbone/pkg/eventbus"
)

const (
	reconnectMaxInterval = 30 * time.Second
	drainGraceWindow     = 10 * time.Second
)

// Runtime runs N handler bindings concurrently, each on its own durable
// queue with prefetch=1. On connection loss it reconnects with exponential
// backoff, re-declares and re-binds. On context cancellation it drains
// in-flight handlers up to a grace window and closes.
type Runtime struct {
	url        string
	bindings   []Binding
	deadLetter DeadLetterSink
	logger     *slog.Logger

	// retryCounts tracks nack budgets per message. AMQP requeue does not
	// carry a retry header, so the count is keyed on the message identity
	// and kept bounded by eviction after dead-lettering.
	retryMu     sync.Mutex
	retryCounts map[string]int

	wg sync.WaitGroup
}

// NewRuntime creates a Runtime for the given broker URL and bindings.
func NewRuntime(url string, bindings []Binding, sink DeadLetterSink, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		url:         url,
		bindings:    bindings,
		deadLetter:  sink,
		logger:      logger,
		retryCounts: make(map[string]int),
	}
}

// Run blocks until ctx is cancelled. Each connection failure triggers a
// backoff-capped reconnect cycle.
func (rt *Runtime) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = reconnectMaxInterval
	policy.MaxElapsedTime = 0 // retry forever

	for {
		if ctx.Err() != nil {
			return
		}

		err := rt.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := policy.NextBackOff()
		rt.logger.Error("consumer session ended, reconnecting",
			"error", err, "backoff", wait.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runSession holds one broker connection: declare, bind, dispatch until
// the connection dies or ctx is cancelled.
func (rt *Runtime) runSession(ctx context.Context) error {
	conn, err := amqp.Dial(rt.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, b := range rt.bindings {
		chn, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel for %s: %w", b.Queue, err)
		}
		if err := rt.setupBinding(chn, b); err != nil {
			return err
		}
		deliveries, err := chn.Consume(b.Queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", b.Queue, err)
		}

		rt.wg.Add(1)
		go func(b Binding, deliveries <-chan amqp.Delivery) {
			defer rt.wg.Done()
			rt.consumeLoop(sessionCtx, b, deliveries)
		}(b, deliveries)
	}

	rt.logger.Info("consumer runtime connected", "bindings", len(rt.bindings))

	select {
	case <-ctx.Done():
		cancel()
		rt.drain()
		return ctx.Err()
	case amqpErr := <-closed:
		cancel()
		rt.drain()
		if amqpErr != nil {
			return fmt.Errorf("connection closed: %s", amqpErr.Reason)
		}
		return fmt.Errorf("connection closed")
	}
}

func (rt *Runtime) setupBinding(chn *amqp.Channel, b Binding) error {
	if err := chn.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch for %s: %w", b.Queue, err)
	}
	if _, err := chn.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.Queue, err)
	}
	for _, pattern := range b.Patterns {
		if err := chn.QueueBind(b.Queue, pattern, b.exchange(), false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.Queue, pattern, err)
		}
	}
	return nil
}

func (rt *Runtime) consumeLoop(ctx context.Context, b Binding, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			rt.dispatch(ctx, b, delivery{
				Body:       d.Body,
				RoutingKey: d.RoutingKey,
				MessageID:  d.MessageId,
				Ack:        func() error { return d.Ack(false) },
				NackRequeue: func() error {
					return d.Nack(false, true)
				},
			})
		}
	}
}

// delivery abstracts the broker delivery so the dispatch policy is
// testable without a live broker.
type delivery struct {
	Body        []byte
	RoutingKey  string
	MessageID   string
	Ack         func() error
	NackRequeue func() error
}

// dispatch decodes and runs the handler, then applies the ack policy:
// Ok -> ack; Retry -> nack-with-requeue while budget remains, then ack and
// dead-letter; Drop -> ack and dead-letter; panic -> ack and log so the
// message cannot loop forever.
func (rt *Runtime) dispatch(ctx context.Context, b Binding, d delivery) {
	evt, err := eventbus.Decode(d.Body)
	if err != nil {
		rt.logger.Error("malformed event, dead-lettering",
			"queue", b.Queue, "routingKey", d.RoutingKey, "error", err)
		rt.recordDeadLetter(b.Queue, d.RoutingKey, d.Body, "malformed payload: "+err.Error())
		rt.ack(b, d)
		return
	}

	result := rt.invoke(ctx, b, evt)

	switch result {
	case Ok:
		rt.clearRetries(d)
		rt.ack(b, d)
	case Retry:
		if rt.bumpRetries(d) < b.maxRetries() {
			if err := d.NackRequeue(); err != nil {
				rt.logger.Error("nack failed", "queue", b.Queue, "error", err)
			}
			return
		}
		rt.clearRetries(d)
		rt.logger.Error("retry budget exhausted, dead-lettering",
			"queue", b.Queue, "routingKey", evt.RoutingKey)
		rt.recordDeadLetter(b.Queue, evt.RoutingKey, d.Body, "retry budget exhausted")
		rt.ack(b, d)
	case Drop:
		rt.clearRetries(d)
		rt.recordDeadLetter(b.Queue, evt.RoutingKey, d.Body, "permanent handler failure")
		rt.ack(b, d)
	}
}

// invoke runs the handler with panic containment.
func (rt *Runtime) invoke(ctx context.Context, b Binding, evt eventbus.Event) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("handler panicked, acking to avoid redelivery loop",
				"queue", b.Queue, "routingKey", evt.RoutingKey, "panic", r)
			result = Ok
		}
	}()
	return b.Handler(ctx, evt)
}

func (rt *Runtime) ack(b Binding, d delivery) {
	if err := d.Ack(); err != nil {
		rt.logger.Error("ack failed", "queue", b.Queue, "error", err)
	}
}

func (rt *Runtime) recordDeadLetter(queue, routingKey string, body []byte, reason string) {
	if rt.deadLetter == nil {
		return
	}
	if err := rt.deadLetter.Record(queue, routingKey, body, reason); err != nil {
		rt.logger.Error("dead-letter record failed", "queue", queue, "error", err)
	}
}

func retryKey(d delivery) string {
	if d.MessageID != "" {
		return d.MessageID
	}
	sum := sha256.Sum256(d.Body)
	return hex.EncodeToString(sum[:8])
}

func (rt *Runtime) bumpRetries(d delivery) int {
	rt.retryMu.Lock()
	defer rt.retryMu.Unlock()
	key := retryKey(d)
	rt.retryCounts[key]++
	return rt.retryCounts[key]
}

func (rt *Runtime) clearRetries(d delivery) {
	rt.retryMu.Lock()
	defer rt.retryMu.Unlock()
	delete(rt.retryCounts, retryKey(d))
}

// drain waits for in-flight handlers up to the grace window.
func (rt *Runtime) drain() {
	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGraceWindow):
		rt.logger.Warn("drain grace window elapsed with handlers still running")
	}
}
