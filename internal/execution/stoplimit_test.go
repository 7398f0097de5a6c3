package execution

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"order-exec/internal/order"
)

func baseStopLimitParams() StopLimitParams {
	return StopLimitParams{
		Symbol:     "BTCUSDT",
		Side:       order.SideSell,
		Quantity:   d("0.010"),
		StopPrice:  d("48000.00"),
		LimitPrice: d("47900.00"),
	}
}

func TestPlaceStopLimitNativePath(t *testing.T) {
	gw := newMockGateway()
	sup, _ := newTestSupervisor(gw)

	h, err := sup.PlaceStopLimit(context.Background(), baseStopLimitParams())
	if err != nil {
		t.Fatalf("PlaceStopLimit returned error: %v", err)
	}
	if h.Type != order.TypeStopLimit {
		t.Errorf("expected native STOP_LIMIT submission, got %s", h.Type)
	}
	if gw.placeCount() != 1 {
		t.Errorf("expected single place call, got %d", gw.placeCount())
	}

	req := gw.placeCalls[0]
	if !req.StopPrice.Equal(d("48000.00")) || !req.Price.Equal(d("47900.00")) {
		t.Errorf("trigger/limit prices not forwarded: stop=%s limit=%s", req.StopPrice, req.Price)
	}
}

func TestPlaceStopLimitLocalTriggerWaitsForCross(t *testing.T) {
	gw := newMockGateway()
	gw.nativeStp = false

	// SELL 触发价 48000: 价格走低穿越后才允许提交限价单。
	prices := []string{"49000", "48500", "47950"}
	var mu sync.Mutex
	var priceCalls int
	gw.priceFn = func() (decimal.Decimal, error) {
		mu.Lock()
		defer mu.Unlock()
		p := prices[priceCalls]
		if priceCalls < len(prices)-1 {
			priceCalls++
		}
		return d(p), nil
	}
	sup, clock := newTestSupervisor(gw)

	h, err := sup.PlaceStopLimit(context.Background(), baseStopLimitParams())
	if err != nil {
		t.Fatalf("PlaceStopLimit returned error: %v", err)
	}
	if h.Type != order.TypeLimit {
		t.Errorf("local trigger must submit a plain limit order, got %s", h.Type)
	}
	if gw.placeCount() != 1 {
		t.Errorf("expected single place call after the cross, got %d", gw.placeCount())
	}
	if priceCalls != 2 {
		t.Errorf("expected 3 price polls, advanced %d times", priceCalls)
	}
	// 每次未触发都等待固定轮询间隔。
	if len(clock.recorded()) != 2 {
		t.Errorf("expected 2 trigger-interval waits, got %v", clock.recorded())
	}
}

func TestPlaceStopLimitLocalTriggerValidatesUpfront(t *testing.T) {
	gw := newMockGateway()
	gw.nativeStp = false
	sup, _ := newTestSupervisor(gw)

	p := baseStopLimitParams()
	p.Quantity = d("0.0105") // 不是步长 0.001 的整数倍
	if _, err := sup.PlaceStopLimit(context.Background(), p); err == nil {
		t.Fatalf("expected validation failure before polling starts")
	}
	if gw.placeCount() != 0 {
		t.Errorf("gateway must not be called, calls=%d", gw.placeCount())
	}
}

func TestCrossedDirections(t *testing.T) {
	stop := d("100")

	if !crossed(order.SideBuy, d("100"), stop) {
		t.Errorf("BUY must trigger at or above the stop")
	}
	if crossed(order.SideBuy, d("99.99"), stop) {
		t.Errorf("BUY must not trigger below the stop")
	}
	if !crossed(order.SideSell, d("100"), stop) {
		t.Errorf("SELL must trigger at or below the stop")
	}
	if crossed(order.SideSell, d("100.01"), stop) {
		t.Errorf("SELL must not trigger above the stop")
	}
}
