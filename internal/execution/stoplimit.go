package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/journal"
	"order-exec/internal/order"
	"order-exec/internal/validate"
)

// StopLimitParams 描述条件限价单: 价格越过 StopPrice 后以 LimitPrice 挂单。
type StopLimitParams struct {
	Symbol     string
	Side       order.Side
	Quantity   decimal.Decimal
	StopPrice  decimal.Decimal
	LimitPrice decimal.Decimal
}

// PlaceStopLimit 提交条件限价单。网关支持原生条件单时直接委托交易所评估
// 触发(首选, 消除本地轮询竞态); 否则退化为本地触发。
func (s *Supervisor) PlaceStopLimit(ctx context.Context, p StopLimitParams) (*order.Handle, error) {
	if s.gw.SupportsNativeStop() {
		req := order.Request{
			Symbol:    p.Symbol,
			Side:      p.Side,
			Type:      order.TypeStopLimit,
			Quantity:  p.Quantity,
			Price:     p.LimitPrice,
			StopPrice: p.StopPrice,
			ClientID:  order.NewClientID("stp"),
		}
		return s.submitOrder(ctx, req)
	}

	return s.localTrigger(ctx, p)
}

// localTrigger 本地触发回退路径: 有界间隔轮询最新价, 越过触发价后提交限价单。
// 价格已越过但限价单尚未确认提交的窗口为 TRIGGER_PENDING 瞬态;
// 该窗口内进程重启会丢失触发, 这里作为已知风险显式告警一次。
func (s *Supervisor) localTrigger(ctx context.Context, p StopLimitParams) (*order.Handle, error) {
	limitReq := order.Request{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Type:     order.TypeLimit,
		Quantity: p.Quantity,
		Price:    p.LimitPrice,
		ClientID: order.NewClientID("stp"),
	}

	// 触发前把限价请求整体校验掉, 触发后不再因参数问题失败。
	if err := s.validator.Validate(ctx, limitReq); err != nil {
		return nil, err
	}
	if !p.StopPrice.IsPositive() {
		return nil, &validate.Error{Reason: "STOP_LIMIT 订单必须携带正的触发价"}
	}

	s.logger.Warn("网关不支持原生条件单, 启用本地触发轮询; 触发窗口内进程重启将丢失触发",
		zap.String("symbol", p.Symbol),
		zap.String("stop_price", p.StopPrice.String()),
		zap.Duration("interval", s.exec.TriggerInterval),
	)
	s.journal.Record(ctx, journal.Event{
		Type:      journal.EventTriggerRisk,
		Symbol:    p.Symbol,
		ClientID:  limitReq.ClientID,
		Quantity:  p.Quantity.String(),
		Detail:    "local trigger mode, restart during trigger window loses the stop",
		Simulated: s.simulated,
	})

	for {
		price, err := s.LastPrice(ctx, p.Symbol)
		if err != nil {
			return nil, err
		}

		if crossed(p.Side, price, p.StopPrice) {
			// TRIGGER_PENDING: 已越价, 限价单提交确认前的瞬态窗口。
			s.logger.Info("触发价已越过, 提交限价单",
				zap.String("symbol", p.Symbol),
				zap.String("last_price", price.String()),
				zap.String("stop_price", p.StopPrice.String()),
			)
			return s.submitOrder(ctx, limitReq)
		}

		if err := s.sleep(ctx, s.exec.TriggerInterval); err != nil {
			return nil, err
		}
	}
}

// crossed 判断最新价是否越过触发价: BUY 向上触发, SELL 向下触发。
func crossed(side order.Side, last, stop decimal.Decimal) bool {
	if side == order.SideBuy {
		return last.GreaterThanOrEqual(stop)
	}
	return last.LessThanOrEqual(stop)
}
