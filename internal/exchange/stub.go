package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/order"
)

// Stub 为 dry-run 模式使用的空操作网关: 走完全部校验与调度逻辑,
// 但不触达真实交易所。市价类订单查询时立即全额成交; 限价类订单中
// 只有最先挂出的一张会成交, 其余保持挂单直至被撤, 使撤销联动
// (OCO 撤对腿)也能在 dry-run 下完整走通。
type Stub struct {
	logger *zap.Logger

	mu       sync.Mutex
	seq      int
	placed   map[string]*order.Handle
	canceled map[string]bool
	// 最先挂出的限价类订单, 唯一允许成交的挂单。
	restingFillID string
}

// NewStub 创建 dry-run 网关。
func NewStub(logger *zap.Logger) *Stub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stub{
		logger:   logger,
		placed:   make(map[string]*order.Handle),
		canceled: make(map[string]bool),
	}
}

func (s *Stub) PlaceOrder(ctx context.Context, req order.Request) (*order.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("DRY-%d", s.seq)
	handle := order.NewHandle(req, id, order.StatusSubmitted, decimal.Zero)
	s.placed[id] = handle
	if resting(req.Type) && s.restingFillID == "" {
		s.restingFillID = id
	}
	s.mu.Unlock()

	s.logger.Info("[dry-run] 模拟提交订单",
		zap.String("symbol", req.Symbol),
		zap.String("client_id", req.ClientID),
		zap.String("type", string(req.Type)),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()),
	)

	return handle, nil
}

func (s *Stub) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.placed[exchangeOrderID]; ok {
		s.canceled[exchangeOrderID] = true
	}
	s.mu.Unlock()

	s.logger.Info("[dry-run] 模拟撤销订单",
		zap.String("symbol", symbol),
		zap.String("exchange_order_id", exchangeOrderID),
	)
	return nil
}

func (s *Stub) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (order.Update, error) {
	if err := ctx.Err(); err != nil {
		return order.Update{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.placed[exchangeOrderID]
	if !ok {
		return order.Update{}, &RejectError{Reason: fmt.Sprintf("未知订单 %s", exchangeOrderID)}
	}

	if s.canceled[exchangeOrderID] {
		return order.Update{Status: order.StatusCanceled, Filled: decimal.Zero}, nil
	}
	if resting(handle.Type) && exchangeOrderID != s.restingFillID {
		return order.Update{Status: order.StatusSubmitted, Filled: decimal.Zero}, nil
	}

	return order.Update{Status: order.StatusFilled, Filled: handle.Quantity}, nil
}

func (s *Stub) SymbolFilters(ctx context.Context, symbol string) (Filters, error) {
	if err := ctx.Err(); err != nil {
		return Filters{}, err
	}
	return Filters{
		Symbol:      symbol,
		TickSize:    decimal.RequireFromString("0.01"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
	}, nil
}

func (s *Stub) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return decimal.RequireFromString("50000"), nil
}

func (s *Stub) SupportsNativeStop() bool {
	return true
}

// resting 判断订单类型是否为挂单(非立即成交)。
func resting(t order.Type) bool {
	switch t {
	case order.TypeLimit, order.TypeStopLimit, order.TypeOcoLeg:
		return true
	case order.TypeMarket, order.TypeTwapSlice:
		return false
	}
	return false
}

var _ Gateway = (*Stub)(nil)
