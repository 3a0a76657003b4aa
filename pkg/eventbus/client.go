package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the producer-side contract. Satisfied by *Client; tests
// substitute an in-memory implementation.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, evt Event) error
}

const (
	publishTimeout = 5 * time.Second
	publishRetries = 3
)

// Client is a durable AMQP publisher. It declares both topic exchanges on
// connect, marks every message persistent, retries transient publish
// failures within a small budget and falls back to the bounded outbox when
// the budget is exhausted.
type Client struct {
	url    string
	logger *slog.Logger
	outbox *Outbox

	mu   sync.Mutex
	conn *amqp.Connection
	chn  *amqp.Channel
}

// NewClient dials the broker at url (default from BROKER_URL) and declares
// the exchanges.
func NewClient(url string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		url = os.Getenv("BROKER_URL")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		url:    url,
		logger: logger,
		outbox: NewOutbox(0, logger),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect (re)establishes the connection and channel and declares the
// exchanges. Callers hold c.mu or are the constructor.
func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	for _, exchange := range []string{ExchangeEvents, ExchangeAuditLogs} {
		if err := chn.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			_ = chn.Close()
			_ = conn.Close()
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}
	c.conn = conn
	c.chn = chn
	return nil
}

// Close shuts down the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chn != nil {
		_ = c.chn.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Publish sends an event as a persistent message. Transient failures are
// retried with backoff inside a hard timeout; once the budget is spent the
// event goes to the outbox and the call returns nil so request threads are
// never blocked on the broker.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, evt Event) error {
	body, err := evt.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), publishRetries), ctx)

	err = backoff.Retry(func() error {
		return c.publishOnce(ctx, exchange, routingKey, body)
	}, policy)
	if err != nil {
		c.logger.Error("publish failed, buffering to outbox",
			"exchange", exchange, "routingKey", routingKey, "error", err)
		c.outbox.Add(exchange, routingKey, evt)
		return nil
	}

	// A successful publish is the signal that the broker is reachable
	// again; flush anything buffered during the outage.
	c.outbox.Drain(func(ex, rk string, e Event) error {
		data, encErr := e.Encode()
		if encErr != nil {
			return nil // unencodable entries are dropped
		}
		return c.publishOnce(ctx, ex, rk, data)
	})
	return nil
}

func (c *Client) publishOnce(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.Lock()
	chn := c.chn
	closed := c.conn == nil || c.conn.IsClosed()
	c.mu.Unlock()

	if closed {
		c.mu.Lock()
		err := c.connect()
		chn = c.chn
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	return chn.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// OutboxLen reports the number of events waiting for the broker to return.
func (c *Client) OutboxLen() int { return c.outbox.Len() }
