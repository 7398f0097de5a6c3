package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"order-exec/internal/order"
)

// Filters 为交易所对单个交易对的精度及最小名义价值约束。
type Filters struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// Candle 代表单根K线, 仅 track 命令的指标报告使用。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Gateway 为订单网关契约。实现方不做重试, 错误统一经 Classify 归一化,
// 重试策略由执行监督器独占负责。
type Gateway interface {
	// PlaceOrder 提交订单, 返回被网关接受的订单句柄。
	PlaceOrder(ctx context.Context, req order.Request) (*order.Handle, error)
	// CancelOrder 撤销订单。订单已处于终态(已撤/已成)视为撤销成功。
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	// QueryOrder 查询订单当前状态。
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (order.Update, error)
	// SymbolFilters 获取交易对过滤器。
	SymbolFilters(ctx context.Context, symbol string) (Filters, error)
	// LastPrice 获取最新成交价。
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// SupportsNativeStop 返回网关是否支持交易所侧的条件触发单。
	SupportsNativeStop() bool
}
