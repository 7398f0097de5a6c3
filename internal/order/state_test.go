package order

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestHandle(status Status) *Handle {
	req := Request{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     TypeLimit,
		Quantity: decimal.RequireFromString("1"),
		Price:    decimal.RequireFromString("50000"),
		ClientID: "lmt-test-1",
	}
	return NewHandle(req, "EX-1", status, decimal.Zero)
}

func TestApplyAllowedTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPendingSubmit, StatusSubmitted, true},
		{StatusPendingSubmit, StatusRejected, true},
		{StatusPendingSubmit, StatusFilled, false},
		{StatusSubmitted, StatusPartiallyFilled, true},
		{StatusSubmitted, StatusFilled, true},
		{StatusSubmitted, StatusCanceled, true},
		{StatusSubmitted, StatusExpired, true},
		{StatusSubmitted, StatusPendingSubmit, false},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCanceled, true},
		{StatusPartiallyFilled, StatusExpired, true},
		{StatusPartiallyFilled, StatusSubmitted, false},
	}

	for _, tc := range cases {
		h := newTestHandle(tc.from)
		h.Apply(Update{Status: tc.to, Filled: h.Filled()}, nil)

		if tc.allowed && h.Status() != tc.to {
			t.Errorf("%s -> %s: transition should be applied, status=%s", tc.from, tc.to, h.Status())
		}
		if !tc.allowed && h.Status() != tc.from {
			t.Errorf("%s -> %s: transition should be ignored, status=%s", tc.from, tc.to, h.Status())
		}
	}
}

func TestApplySameStatusIsNoOp(t *testing.T) {
	h := newTestHandle(StatusSubmitted)
	if changed := h.Apply(Update{Status: StatusSubmitted}, nil); changed {
		t.Errorf("replaying the current status must not report a change")
	}
}

func TestApplyTerminalStateIsSealed(t *testing.T) {
	h := newTestHandle(StatusSubmitted)
	h.Apply(Update{Status: StatusCanceled}, nil)

	if changed := h.Apply(Update{Status: StatusFilled, Filled: h.Quantity}, nil); changed {
		t.Errorf("terminal handle must ignore contradicting updates")
	}
	if h.Status() != StatusCanceled {
		t.Errorf("terminal status rewritten to %s", h.Status())
	}
	if !h.Filled().IsZero() {
		t.Errorf("terminal fill rewritten to %s", h.Filled())
	}
}

func TestApplyFillIsMonotonic(t *testing.T) {
	h := newTestHandle(StatusSubmitted)

	h.Apply(Update{Status: StatusPartiallyFilled, Filled: decimal.RequireFromString("0.4")}, nil)
	if !h.Filled().Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("expected filled 0.4, got %s", h.Filled())
	}

	// 过期观测携带更小的成交量, 不得回退。
	h.Apply(Update{Status: StatusPartiallyFilled, Filled: decimal.RequireFromString("0.2")}, nil)
	if !h.Filled().Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("fill must not regress, got %s", h.Filled())
	}

	// 同一观测重放为幂等空操作。
	if changed := h.Apply(Update{Status: StatusPartiallyFilled, Filled: decimal.RequireFromString("0.4")}, nil); changed {
		t.Errorf("replaying the same observation must not report a change")
	}
}

func TestTerminal(t *testing.T) {
	terminal := []Status{StatusFilled, StatusCanceled, StatusRejected, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPendingSubmit, StatusSubmitted, StatusPartiallyFilled} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseSide(t *testing.T) {
	if side, err := ParseSide("BUY"); err != nil || side != SideBuy {
		t.Errorf("ParseSide(BUY) = %s, %v", side, err)
	}
	if side, err := ParseSide("SELL"); err != nil || side != SideSell {
		t.Errorf("ParseSide(SELL) = %s, %v", side, err)
	}
	if _, err := ParseSide("buy"); err == nil {
		t.Errorf("lowercase side must be rejected")
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Errorf("Opposite mapping broken")
	}
}

func TestNewClientIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewClientID("tst")
		if seen[id] {
			t.Fatalf("duplicate client id %s", id)
		}
		seen[id] = true
		if !strings.HasPrefix(id, "tst-") {
			t.Fatalf("client id missing prefix: %s", id)
		}
	}
}
