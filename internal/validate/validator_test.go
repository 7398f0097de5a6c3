package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"order-exec/internal/exchange"
	"order-exec/internal/order"
)

type mockSource struct {
	filters     exchange.Filters
	filterCalls int
	priceCalls  int
	lastPrice   decimal.Decimal
	filterErr   error
}

func (m *mockSource) SymbolFilters(ctx context.Context, symbol string) (exchange.Filters, error) {
	m.filterCalls++
	if m.filterErr != nil {
		return exchange.Filters{}, m.filterErr
	}
	return m.filters, nil
}

func (m *mockSource) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.priceCalls++
	return m.lastPrice, nil
}

func newMockSource() *mockSource {
	return &mockSource{
		filters: exchange.Filters{
			Symbol:      "BTCUSDT",
			TickSize:    decimal.RequireFromString("0.01"),
			StepSize:    decimal.RequireFromString("0.001"),
			MinNotional: decimal.RequireFromString("5"),
		},
		lastPrice: decimal.NewFromInt(50000),
	}
}

func baseRequest() order.Request {
	return order.Request{
		Symbol:   "BTCUSDT",
		Side:     order.SideBuy,
		Type:     order.TypeLimit,
		Quantity: decimal.RequireFromString("0.010"),
		Price:    decimal.RequireFromString("50000.00"),
		ClientID: "lmt-test",
	}
}

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(newMockSource(), nil, nil)
	if err := v.Validate(context.Background(), baseRequest()); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestValidateConstraints(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*order.Request)
	}{
		{"空交易对", func(r *order.Request) { r.Symbol = "" }},
		{"非法方向", func(r *order.Request) { r.Side = "HOLD" }},
		{"数量非正", func(r *order.Request) { r.Quantity = decimal.Zero }},
		{"限价缺失", func(r *order.Request) { r.Price = decimal.Zero }},
		{"数量偏离步长", func(r *order.Request) { r.Quantity = decimal.RequireFromString("0.0105") }},
		{"价格偏离价位", func(r *order.Request) { r.Price = decimal.RequireFromString("50000.005") }},
		{"名义价值不足", func(r *order.Request) {
			r.Quantity = decimal.RequireFromString("0.001")
			r.Price = decimal.RequireFromString("100.00")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValidator(newMockSource(), nil, nil)
			req := baseRequest()
			tc.mutate(&req)

			err := v.Validate(context.Background(), req)
			var vErr *Error
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validate.Error, got %v", err)
			}
			if vErr.Reason == "" {
				t.Errorf("validation error must name the violated constraint")
			}
		})
	}
}

func TestValidateStopLimitRequiresStopPrice(t *testing.T) {
	v := NewValidator(newMockSource(), nil, nil)

	req := baseRequest()
	req.Type = order.TypeStopLimit
	var vErr *Error
	if err := v.Validate(context.Background(), req); !errors.As(err, &vErr) {
		t.Fatalf("expected stop price requirement, got %v", err)
	}

	req.StopPrice = decimal.RequireFromString("49000.00")
	if err := v.Validate(context.Background(), req); err != nil {
		t.Fatalf("valid stop-limit rejected: %v", err)
	}

	// 触发价同样受最小变动价位约束。
	req.StopPrice = decimal.RequireFromString("49000.005")
	if err := v.Validate(context.Background(), req); !errors.As(err, &vErr) {
		t.Fatalf("expected tick violation for stop price, got %v", err)
	}
}

func TestValidateMarketUsesLastPriceForNotional(t *testing.T) {
	src := newMockSource()
	v := NewValidator(src, nil, nil)

	req := baseRequest()
	req.Type = order.TypeMarket
	req.Price = decimal.Zero

	if err := v.Validate(context.Background(), req); err != nil {
		t.Fatalf("valid market request rejected: %v", err)
	}
	if src.priceCalls != 1 {
		t.Errorf("market notional check must consult the last price, calls=%d", src.priceCalls)
	}

	// 0.001 × 50000 = 50 名义, 达标; 压低最新价使其不足。
	src.lastPrice = decimal.NewFromInt(100)
	req.Quantity = decimal.RequireFromString("0.001")
	var vErr *Error
	if err := v.Validate(context.Background(), req); !errors.As(err, &vErr) {
		t.Fatalf("expected notional violation, got %v", err)
	}
}

func TestFiltersFetchedOncePerSymbol(t *testing.T) {
	src := newMockSource()
	v := NewValidator(src, NewCache(), nil)

	for i := 0; i < 5; i++ {
		if err := v.Validate(context.Background(), baseRequest()); err != nil {
			t.Fatalf("validate %d failed: %v", i, err)
		}
	}
	if src.filterCalls != 1 {
		t.Errorf("filters must be fetched once and cached, calls=%d", src.filterCalls)
	}
}

func TestFiltersFetchErrorPropagates(t *testing.T) {
	src := newMockSource()
	src.filterErr = errors.New("boom")
	v := NewValidator(src, nil, nil)

	err := v.Validate(context.Background(), baseRequest())
	if err == nil {
		t.Fatalf("expected fetch error to propagate")
	}
	var vErr *Error
	if errors.As(err, &vErr) {
		t.Errorf("gateway failure must not be reported as a validation error")
	}
}
