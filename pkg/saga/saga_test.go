package saga

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atlaserp/backbone/pkg/consumer"
	"github.com/atlaserp/backbone/pkg/eventbus"
	"github.com/atlaserp/backbone/pkg/registry"
)

func setupSagaStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

type publishedEvent struct {
	Exchange   string
	RoutingKey string
	Event      eventbus.Event
}

type fakeBus struct {
	published []publishedEvent
}

func (f *fakeBus) Publish(_ context.Context, exchange, routingKey string, evt eventbus.Event) error {
	f.published = append(f.published, publishedEvent{Exchange: exchange, RoutingKey: routingKey, Event: evt})
	return nil
}

func (f *fakeBus) byKey(key string) []publishedEvent {
	var out []publishedEvent
	for _, p := range f.published {
		if p.RoutingKey == key {
			out = append(out, p)
		}
	}
	return out
}

func saleClosedEvent() eventbus.Event {
	return eventbus.New("pos.sale.closed", "T", map[string]any{
		"order_number": "O-1",
		"customer_id":  "C-9",
		"grand_total":  "200.00",
		"items": []any{
			map[string]any{"sku": "S", "qty": float64(2)},
		},
	})
}

func TestPOSSaleSagaSuccess(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	inventory := NewInventoryProjection(store, bus, nil)
	require.NoError(t, inventory.SetStock(ctx, "T", "S", decimal.NewFromInt(10)))

	accounting := NewAccountingProjection(store, nil)
	loyalty := NewLoyaltyProjection(store, nil)
	reporting := NewReportingProjection(store, nil)
	pos := NewPOSCoordinator(store, nil, bus, nil)

	evt := saleClosedEvent()
	require.Equal(t, consumer.Ok, pos.HandleSaleClosed(ctx, evt))
	require.Equal(t, consumer.Ok, inventory.HandleSaleClosed(ctx, evt))
	require.Equal(t, consumer.Ok, accounting.HandleSaleClosed(ctx, evt))
	require.Equal(t, consumer.Ok, loyalty.HandleSaleClosed(ctx, evt))
	require.Equal(t, consumer.Ok, reporting.HandleSaleClosed(ctx, evt))

	// Stock 10 - 2 = 8, and a success reply went out.
	qty, err := inventory.Stock(ctx, "T", "S")
	require.NoError(t, err)
	assert.Equal(t, "8", qty.String())

	replies := bus.byKey("stock.update.success")
	require.Len(t, replies, 1)
	assert.Equal(t, "O-1", replies[0].Event.Body["order_reference"])

	// Coordinator settles on the reply.
	require.Equal(t, consumer.Ok, pos.HandleStockSuccess(ctx, replies[0].Event))
	rec, err := store.GetRecord(ctx, "O-1", sagaKindPOSSale)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateSucceeded, rec.State)

	// Journal is Dr Cash / Cr Sales Revenue 200.00.
	entry, err := accounting.Entry(ctx, "T", "SALE-O-1")
	require.NoError(t, err)
	assert.Equal(t, "Cash", entry.DebitAccount)
	assert.Equal(t, "Sales Revenue", entry.CreditAccount)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("200.00")))

	// Reporting merged revenue and txn count.
	agg, err := reporting.Daily(ctx, "T", evt.OccurredAt)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.True(t, agg.Revenue.Equal(decimal.RequireFromString("200.00")))
	assert.Equal(t, int64(1), agg.TxnCount)

	// Loyalty accrued points.
	points, err := loyalty.Balance(ctx, "T", "C-9")
	require.NoError(t, err)
	assert.True(t, points.IsPositive())
}

func TestPOSSaleSagaRedeliveryIsNoOp(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	inventory := NewInventoryProjection(store, bus, nil)
	require.NoError(t, inventory.SetStock(ctx, "T", "S", decimal.NewFromInt(10)))
	accounting := NewAccountingProjection(store, nil)
	loyalty := NewLoyaltyProjection(store, nil)
	reporting := NewReportingProjection(store, nil)

	evt := saleClosedEvent()
	for i := 0; i < 2; i++ {
		require.Equal(t, consumer.Ok, inventory.HandleSaleClosed(ctx, evt))
		require.Equal(t, consumer.Ok, accounting.HandleSaleClosed(ctx, evt))
		require.Equal(t, consumer.Ok, loyalty.HandleSaleClosed(ctx, evt))
		require.Equal(t, consumer.Ok, reporting.HandleSaleClosed(ctx, evt))
	}

	qty, err := inventory.Stock(ctx, "T", "S")
	require.NoError(t, err)
	assert.Equal(t, "8", qty.String(), "stock decremented once")

	agg, err := reporting.Daily(ctx, "T", evt.OccurredAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.TxnCount, "transaction counted once")

	points, err := loyalty.Balance(ctx, "T", "C-9")
	require.NoError(t, err)
	expected := decimal.RequireFromString("200.00").Mul(defaultEarnRate)
	assert.True(t, points.Equal(expected), "points accrued once")

	assert.Len(t, bus.byKey("stock.update.success"), 1, "one reply for one decrement")
}

func TestPOSSaleSagaFailure(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	inventory := NewInventoryProjection(store, bus, nil)
	require.NoError(t, inventory.SetStock(ctx, "T", "S", decimal.NewFromInt(1)))

	var posCalls []map[string]any
	posServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		posCalls = append(posCalls, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer posServer.Close()
	client := registry.NewClient()
	client.BaseURLOverride = posServer.URL
	pos := NewPOSCoordinator(store, client, bus, nil)

	evt := saleClosedEvent()
	require.Equal(t, consumer.Ok, pos.HandleSaleClosed(ctx, evt))
	require.Equal(t, consumer.Ok, inventory.HandleSaleClosed(ctx, evt))

	// Stock was 1, sale wanted 2: a failure reply, no partial decrement.
	qty, err := inventory.Stock(ctx, "T", "S")
	require.NoError(t, err)
	assert.Equal(t, "1", qty.String())

	failures := bus.byKey("stock.update.failed")
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Event.Body["error"], "insufficient stock")

	require.Equal(t, consumer.Ok, pos.HandleStockFailed(ctx, failures[0].Event))

	rec, err := store.GetRecord(ctx, "O-1", sagaKindPOSSale)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.Note, "insufficient stock")

	// Order flipped to error in the POS service, alert published.
	require.Len(t, posCalls, 1)
	assert.Equal(t, "error", posCalls[0]["status"])
	assert.Equal(t, "O-1", posCalls[0]["order_number"])
	assert.Len(t, bus.byKey("pos.sale.held"), 1)
}

func TestTerminalSagaStateIsSticky(t *testing.T) {
	store := setupSagaStore(t)
	ctx := context.Background()

	_, err := store.EnsureRecord(ctx, "T", "O-1", sagaKindPOSSale)
	require.NoError(t, err)
	require.NoError(t, store.SetState(ctx, "O-1", sagaKindPOSSale, StateSucceeded, ""))
	require.NoError(t, store.SetState(ctx, "O-1", sagaKindPOSSale, StateFailed, "late failure"))

	rec, err := store.GetRecord(ctx, "O-1", sagaKindPOSSale)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, rec.State)
}

func TestPurchaseReceiptFlow(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	inventory := NewInventoryProjection(store, bus, nil)
	purchase := NewPurchaseCoordinator(store, nil, nil)

	evt := eventbus.New("purchase.order.received", "T", map[string]any{
		"po_reference": "PO-7",
		"items": []any{
			map[string]any{"sku": "S", "qty": float64(5)},
		},
	})
	require.Equal(t, consumer.Ok, purchase.HandleOrderReceived(ctx, evt))
	require.Equal(t, consumer.Ok, inventory.HandlePurchaseReceived(ctx, evt))

	qty, err := inventory.Stock(ctx, "T", "S")
	require.NoError(t, err)
	assert.Equal(t, "5", qty.String())

	replies := bus.byKey("stock.update.success")
	require.Len(t, replies, 1)
	require.Equal(t, consumer.Ok, purchase.HandleStockSuccess(ctx, replies[0].Event))

	rec, err := store.GetRecord(ctx, "PO-7", sagaKindPurchase)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, rec.State)
}

func TestPurchaseReplyIgnoredWithoutRecord(t *testing.T) {
	store := setupSagaStore(t)
	purchase := NewPurchaseCoordinator(store, nil, nil)

	// A stock reply for a POS sale must not touch the purchase saga.
	evt := eventbus.New("stock.update.success", "T", map[string]any{
		"order_reference": "O-1",
	})
	assert.Equal(t, consumer.Ok, purchase.HandleStockSuccess(context.Background(), evt))
}

func TestPOSReplyIgnoredWithoutRecord(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	var posCalled int
	posServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posCalled++
		w.WriteHeader(http.StatusOK)
	}))
	defer posServer.Close()
	client := registry.NewClient()
	client.BaseURLOverride = posServer.URL
	pos := NewPOSCoordinator(store, client, bus, nil)

	// Only a purchase saga exists for this reference. The failure reply
	// is for the purchase coordinator; POS must not hold the order.
	_, err := store.EnsureRecord(ctx, "T", "PO-9", sagaKindPurchase)
	require.NoError(t, err)

	failed := eventbus.New("stock.update.failed", "T", map[string]any{
		"order_reference": "PO-9",
		"error":           "insufficient stock",
	})
	assert.Equal(t, consumer.Ok, pos.HandleStockFailed(ctx, failed))
	assert.Zero(t, posCalled, "POS service must not be called for a purchase reply")
	assert.Empty(t, bus.byKey("pos.sale.held"))

	success := eventbus.New("stock.update.success", "T", map[string]any{
		"order_reference": "PO-9",
	})
	assert.Equal(t, consumer.Ok, pos.HandleStockSuccess(ctx, success))

	rec, err := store.GetRecord(ctx, "PO-9", sagaKindPurchase)
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State, "purchase saga untouched by the POS coordinator")
}

func TestManufacturingQCPassed(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	mfg := NewManufacturingCoordinator(store, nil, bus, nil)

	completed := eventbus.New("production.order.completed", "T", map[string]any{
		"production_order": "MO-3",
		"product_id":       "P",
		"quantity":         float64(50),
	})
	require.Equal(t, consumer.Ok, mfg.HandleOrderCompleted(ctx, completed))
	assert.Len(t, bus.byKey("production.qc_requested"), 1)

	// Redelivery does not request QC twice.
	require.Equal(t, consumer.Ok, mfg.HandleOrderCompleted(ctx, completed))
	assert.Len(t, bus.byKey("production.qc_requested"), 1)

	verdict := eventbus.New("quality.inspection.completed", "T", map[string]any{
		"production_order": "MO-3",
		"status":           "PASSED",
	})
	require.Equal(t, consumer.Ok, mfg.HandleInspectionCompleted(ctx, verdict))
	assert.Len(t, bus.byKey("production.output_created"), 1)

	rec, err := store.GetRecord(ctx, "MO-3", sagaKindQuality)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, rec.State)
}

func TestManufacturingQCRejected(t *testing.T) {
	store := setupSagaStore(t)
	bus := &fakeBus{}
	ctx := context.Background()

	var mfgCalls []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mfgCalls = append(mfgCalls, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	client := registry.NewClient()
	client.BaseURLOverride = srv.URL
	mfg := NewManufacturingCoordinator(store, client, bus, nil)

	completed := eventbus.New("production.order.completed", "T", map[string]any{
		"production_order": "MO-4",
	})
	require.Equal(t, consumer.Ok, mfg.HandleOrderCompleted(ctx, completed))

	verdict := eventbus.New("quality.inspection.completed", "T", map[string]any{
		"production_order": "MO-4",
		"status":           "REJECTED",
		"reason":           "surface defects",
	})
	require.Equal(t, consumer.Ok, mfg.HandleInspectionCompleted(ctx, verdict))

	require.Len(t, mfgCalls, 1)
	assert.Equal(t, "REWORK", mfgCalls[0]["status"])
	assert.Len(t, bus.byKey("manufacturing.defect_escalation"), 1)

	rec, err := store.GetRecord(ctx, "MO-4", sagaKindQuality)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "surface defects", rec.Note)
}

func TestPayrollToLedger(t *testing.T) {
	store := setupSagaStore(t)
	ctx := context.Background()
	accounting := NewAccountingProjection(store, nil)

	evt := eventbus.New("hrms.payroll.finalized", "T", map[string]any{
		"period":  "2026-03",
		"net_pay": "45250.75",
	})
	require.Equal(t, consumer.Ok, accounting.HandlePayrollFinalized(ctx, evt))
	require.Equal(t, consumer.Ok, accounting.HandlePayrollFinalized(ctx, evt))

	entry, err := accounting.Entry(ctx, "T", "PAYROLL-2026-03")
	require.NoError(t, err)
	assert.Equal(t, "Salary Expense", entry.DebitAccount)
	assert.Equal(t, "Salary Payable", entry.CreditAccount)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("45250.75")))

	var count int64
	require.NoError(t, store.db.Model(&JournalEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "redelivery posts once")
}

func TestStepOnceRollsBackWithFailedWork(t *testing.T) {
	store := setupSagaStore(t)
	ctx := context.Background()

	ran, err := store.StepOnce(ctx, "O-9", "flaky", func(tx *gorm.DB) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.False(t, ran)

	// The failed attempt left no step mark; a retry runs the work.
	ran, err = store.StepOnce(ctx, "O-9", "flaky", func(tx *gorm.DB) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestListRecordsScopedToTenant(t *testing.T) {
	store := setupSagaStore(t)
	ctx := context.Background()

	_, err := store.EnsureRecord(ctx, "T", "O-1", sagaKindPOSSale)
	require.NoError(t, err)
	_, err = store.EnsureRecord(ctx, "other", "O-2", sagaKindPOSSale)
	require.NoError(t, err)

	records, err := store.ListRecords(ctx, "T", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "O-1", records[0].CorrelationID)
	assert.WithinDuration(t, time.Now(), records[0].StartedAt, time.Minute)
}
