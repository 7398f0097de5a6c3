package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"order-exec/internal/order"
)

func stubRequest(id string, typ order.Type) order.Request {
	req := order.Request{
		Symbol:   "BTCUSDT",
		Side:     order.SideSell,
		Type:     typ,
		Quantity: decimal.RequireFromString("0.010"),
		ClientID: id,
	}
	if typ.RequiresPrice() {
		req.Price = decimal.RequireFromString("52000.00")
	}
	if typ == order.TypeStopLimit {
		req.StopPrice = decimal.RequireFromString("48000.00")
	}
	return req
}

func TestStubMarketOrderFillsOnQuery(t *testing.T) {
	s := NewStub(nil)
	ctx := context.Background()

	h, err := s.PlaceOrder(ctx, stubRequest("mkt-1", order.TypeMarket))
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	update, err := s.QueryOrder(ctx, h.Symbol, h.ExchangeOrderID)
	if err != nil {
		t.Fatalf("QueryOrder returned error: %v", err)
	}
	if update.Status != order.StatusFilled || !update.Filled.Equal(h.Quantity) {
		t.Errorf("market order should fill in full, got %s/%s", update.Status, update.Filled)
	}
}

func TestStubOnlyFirstRestingOrderFills(t *testing.T) {
	s := NewStub(nil)
	ctx := context.Background()

	first, err := s.PlaceOrder(ctx, stubRequest("oco-1-tp", order.TypeOcoLeg))
	if err != nil {
		t.Fatalf("place first leg: %v", err)
	}
	second, err := s.PlaceOrder(ctx, stubRequest("oco-1-sl", order.TypeStopLimit))
	if err != nil {
		t.Fatalf("place second leg: %v", err)
	}

	u1, _ := s.QueryOrder(ctx, first.Symbol, first.ExchangeOrderID)
	u2, _ := s.QueryOrder(ctx, second.Symbol, second.ExchangeOrderID)
	if u1.Status != order.StatusFilled {
		t.Errorf("first resting order should fill, got %s", u1.Status)
	}
	if u2.Status != order.StatusSubmitted {
		t.Errorf("later resting order must stay open until canceled, got %s", u2.Status)
	}
}

func TestStubReportsCanceledAfterCancel(t *testing.T) {
	s := NewStub(nil)
	ctx := context.Background()

	_, err := s.PlaceOrder(ctx, stubRequest("oco-2-tp", order.TypeOcoLeg))
	if err != nil {
		t.Fatalf("place first leg: %v", err)
	}
	second, err := s.PlaceOrder(ctx, stubRequest("oco-2-sl", order.TypeStopLimit))
	if err != nil {
		t.Fatalf("place second leg: %v", err)
	}

	if err := s.CancelOrder(ctx, second.Symbol, second.ExchangeOrderID); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}

	update, err := s.QueryOrder(ctx, second.Symbol, second.ExchangeOrderID)
	if err != nil {
		t.Fatalf("QueryOrder returned error: %v", err)
	}
	if update.Status != order.StatusCanceled {
		t.Errorf("canceled order must report CANCELED, got %s", update.Status)
	}
	if !update.Filled.IsZero() {
		t.Errorf("canceled resting order must report zero fill, got %s", update.Filled)
	}

	// 撤销未知订单同样视为成功(幂等意图)。
	if err := s.CancelOrder(ctx, "BTCUSDT", "DRY-404"); err != nil {
		t.Errorf("cancel of unknown order must succeed, got %v", err)
	}
}
