package journal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"order-exec/internal/config"
	"order-exec/internal/order"
	"order-exec/internal/store"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	j, err := New(st, nil)
	if err != nil {
		t.Fatalf("init journal: %v", err)
	}
	return j
}

func TestRecordAndTail(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, Event{
		Type:     EventSubmitted,
		Symbol:   "BTCUSDT",
		ClientID: "lmt-1",
		Status:   order.StatusSubmitted,
		Quantity: "0.010",
	})
	j.Record(ctx, Event{
		Type:      EventSliceFailed,
		Symbol:    "BTCUSDT",
		ClientID:  "twap2-1",
		Quantity:  "0.2",
		Detail:    "slice 2: rejected",
		Simulated: true,
	})

	events, err := j.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("Tail returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	// Tail 按时间倒序返回。
	if events[0].Type != EventSliceFailed {
		t.Errorf("expected newest event first, got %s", events[0].Type)
	}
	if !events[0].Simulated {
		t.Errorf("simulated flag lost")
	}
	if events[1].Type != EventSubmitted || events[1].ClientID != "lmt-1" {
		t.Errorf("unexpected oldest event: %+v", events[1])
	}
	if events[0].Timestamp.IsZero() {
		t.Errorf("timestamp must be backfilled on write")
	}
}

func TestRecordHandleCapturesHandleState(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	req := order.Request{
		Symbol:   "ETHUSDT",
		Side:     order.SideSell,
		Type:     order.TypeLimit,
		Quantity: decimal.RequireFromString("1.5"),
		Price:    decimal.RequireFromString("3000"),
		ClientID: "lmt-7",
	}
	h := order.NewHandle(req, "EX-7", order.StatusSubmitted, decimal.Zero)

	j.RecordHandle(ctx, EventSubmitted, h, "", false)

	events, err := j.Tail(ctx, 1)
	if err != nil {
		t.Fatalf("Tail returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.Symbol != "ETHUSDT" || e.ClientID != "lmt-7" || e.ExchangeOrderID != "EX-7" {
		t.Errorf("handle context not captured: %+v", e)
	}
	if e.Status != order.StatusSubmitted || e.Quantity != "1.5" {
		t.Errorf("handle state not captured: %+v", e)
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	ctx := context.Background()

	j.Record(ctx, Event{Type: EventSubmitted, Symbol: "BTCUSDT"})
	j.RecordHandle(ctx, EventSubmitted, nil, "", false)

	events, err := j.Tail(ctx, 5)
	if err != nil || events != nil {
		t.Errorf("nil journal must be a no-op, got %v, %v", events, err)
	}
}
