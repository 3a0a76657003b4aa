package consumer

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atlaserp/backbone/pkg/eventbus"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

type fakeDelivery struct {
	acked   int
	nacked  int
	body    []byte
	msgID   string
	routing string
}

func (f *fakeDelivery) delivery() delivery {
	return delivery{
		Body:        f.body,
		RoutingKey:  f.routing,
		MessageID:   f.msgID,
		Ack:         func() error { f.acked++; return nil },
		NackRequeue: func() error { f.nacked++; return nil },
	}
}

func encodedEvent(t *testing.T, routingKey string) []byte {
	t.Helper()
	data, err := eventbus.New(routingKey, "t1", map[string]any{"k": "v"}).Encode()
	require.NoError(t, err)
	return data
}

func newTestRuntime(sink DeadLetterSink) *Runtime {
	return NewRuntime("amqp://unused", nil, sink, nil)
}

func TestDispatchOkAcks(t *testing.T) {
	rt := newTestRuntime(nil)
	fd := &fakeDelivery{body: encodedEvent(t, "pos.sale.closed"), msgID: "m1"}

	b := Binding{Queue: "q", Handler: func(ctx context.Context, evt eventbus.Event) Result {
		assert.Equal(t, "pos.sale.closed", evt.RoutingKey)
		return Ok
	}}
	rt.dispatch(context.Background(), b, fd.delivery())

	assert.Equal(t, 1, fd.acked)
	assert.Equal(t, 0, fd.nacked)
}

func TestDispatchRetryNacksWithinBudget(t *testing.T) {
	rt := newTestRuntime(nil)
	fd := &fakeDelivery{body: encodedEvent(t, "stock.update.failed"), msgID: "m2"}

	b := Binding{Queue: "q", MaxRetries: 3, Handler: func(ctx context.Context, evt eventbus.Event) Result {
		return Retry
	}}

	rt.dispatch(context.Background(), b, fd.delivery())
	rt.dispatch(context.Background(), b, fd.delivery())
	assert.Equal(t, 2, fd.nacked)
	assert.Equal(t, 0, fd.acked)
}

func TestDispatchRetryDeadLettersWhenExhausted(t *testing.T) {
	db := setupTestDB(t)
	store := NewDeadLetterStore(db)
	require.NoError(t, store.AutoMigrate())

	rt := newTestRuntime(store)
	fd := &fakeDelivery{body: encodedEvent(t, "stock.update.failed"), msgID: "m3"}

	b := Binding{Queue: "q", MaxRetries: 2, Handler: func(ctx context.Context, evt eventbus.Event) Result {
		return Retry
	}}

	rt.dispatch(context.Background(), b, fd.delivery()) // attempt 1: nack
	rt.dispatch(context.Background(), b, fd.delivery()) // attempt 2: budget spent, ack + DLQ

	assert.Equal(t, 1, fd.nacked)
	assert.Equal(t, 1, fd.acked)

	letters, err := store.List("q", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "retry budget exhausted")
}

func TestDispatchDropAcksAndDeadLetters(t *testing.T) {
	db := setupTestDB(t)
	store := NewDeadLetterStore(db)
	require.NoError(t, store.AutoMigrate())

	rt := newTestRuntime(store)
	fd := &fakeDelivery{body: encodedEvent(t, "quality.inspection.completed"), msgID: "m4"}

	b := Binding{Queue: "q", Handler: func(ctx context.Context, evt eventbus.Event) Result {
		return Drop
	}}
	rt.dispatch(context.Background(), b, fd.delivery())

	assert.Equal(t, 1, fd.acked)
	letters, err := store.List("q", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "permanent")
}

func TestDispatchMalformedPayloadDeadLetters(t *testing.T) {
	db := setupTestDB(t)
	store := NewDeadLetterStore(db)
	require.NoError(t, store.AutoMigrate())

	rt := newTestRuntime(store)
	fd := &fakeDelivery{body: []byte("{broken"), msgID: "m5", routing: "x.y.z"}

	called := false
	b := Binding{Queue: "q", Handler: func(ctx context.Context, evt eventbus.Event) Result {
		called = true
		return Ok
	}}
	rt.dispatch(context.Background(), b, fd.delivery())

	assert.False(t, called)
	assert.Equal(t, 1, fd.acked)
	letters, err := store.List("q", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "malformed")
}

func TestDispatchPanicAcks(t *testing.T) {
	rt := newTestRuntime(nil)
	fd := &fakeDelivery{body: encodedEvent(t, "pos.sale.closed"), msgID: "m6"}

	b := Binding{Queue: "q", Handler: func(ctx context.Context, evt eventbus.Event) Result {
		panic("handler bug")
	}}
	rt.dispatch(context.Background(), b, fd.delivery())

	assert.Equal(t, 1, fd.acked)
	assert.Equal(t, 0, fd.nacked)
}

func TestBindingDefaults(t *testing.T) {
	b := Binding{Queue: "q"}
	assert.Equal(t, eventbus.ExchangeEvents, b.exchange())
	assert.Equal(t, 3, b.maxRetries())
}
