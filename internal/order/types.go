package order

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 解析方向字符串。
func ParseSide(raw string) (Side, error) {
	switch Side(raw) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("order: 无效的方向 %q, 仅支持 BUY/SELL", raw)
	}
}

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type 为封闭的订单类型集合，所有消费方必须穷举处理。
type Type string

const (
	TypeMarket    Type = "MARKET"
	TypeLimit     Type = "LIMIT"
	TypeStopLimit Type = "STOP_LIMIT"
	TypeOcoLeg    Type = "OCO_LEG"
	TypeTwapSlice Type = "TWAP_SLICE"
)

// RequiresPrice 返回该类型是否必须携带限价。
func (t Type) RequiresPrice() bool {
	switch t {
	case TypeLimit, TypeStopLimit, TypeOcoLeg:
		return true
	case TypeMarket, TypeTwapSlice:
		return false
	}
	return false
}

// Request 描述一笔待提交的订单意图。ClientID 在进程生命周期内唯一，
// 作为幂等键透传给交易所。
type Request struct {
	Symbol    string
	Side      Side
	Type      Type
	Quantity  decimal.Decimal
	Price     decimal.Decimal // LIMIT/STOP_LIMIT/OCO_LEG 必填
	StopPrice decimal.Decimal // STOP_LIMIT 必填
	ClientID  string
}

// Handle 表示已被网关接受的订单，由创建它的流程独占持有。
type Handle struct {
	ExchangeOrderID string
	ClientID        string
	Symbol          string
	Side            Side
	Type            Type
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	CreatedAt       time.Time

	status Status
	filled decimal.Decimal
}

// NewHandle 基于请求创建初始状态的 Handle。
func NewHandle(req Request, exchangeOrderID string, status Status, filled decimal.Decimal) *Handle {
	if status == "" {
		status = StatusPendingSubmit
	}
	return &Handle{
		ExchangeOrderID: exchangeOrderID,
		ClientID:        req.ClientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		CreatedAt:       time.Now().UTC(),
		status:          status,
		filled:          filled,
	}
}

// Status 返回当前生命周期状态。
func (h *Handle) Status() Status {
	return h.status
}

// Filled 返回累计成交数量。
func (h *Handle) Filled() decimal.Decimal {
	return h.filled
}

var clientSeq atomic.Uint64

// NewClientID 生成进程内唯一的客户端订单号。
func NewClientID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixMilli(), clientSeq.Add(1))
}
