package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-exec/internal/journal"
	"order-exec/internal/order"
)

// ErrOcoRace 表示 OCO 双腿都产生了成交: 撤单晚于对腿成交。
// 协调器不做自动反向平仓, 由调用方依据双腿成交量人工对账。
var ErrOcoRace = errors.New("execution: OCO 双腿同时成交")

// OcoParams 描述一组 One-Cancels-Other 订单:
// 止盈限价腿 + 条件止损腿, 两腿共享同一标的数量。
type OcoParams struct {
	Symbol          string
	Side            order.Side
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopPrice       decimal.Decimal
	StopLimitPrice  decimal.Decimal
}

// OcoReport 为一组 OCO 的最终结果。
type OcoReport struct {
	GroupID    string
	TakeProfit *order.Handle
	Stop       *order.Handle
	// FilledLeg 为首先进入成交状态的腿, CanceledLeg 为被撤销的对腿。
	// 发生竞态(双腿成交)时 CanceledLeg 为空且 Raced 为真。
	FilledLeg   *order.Handle
	CanceledLeg *order.Handle
	Raced       bool
}

// PlaceOCO 提交一组模拟 OCO: 双腿并发提交以收窄竞态窗口, 之后轮询双腿,
// 任一腿进入成交状态立即撤销对腿。网关无原生 OCO 原语(币安合约),
// 故取消关系始终由本地维护; 止损腿的触发本身仍交由交易所执行。
func (s *Supervisor) PlaceOCO(ctx context.Context, p OcoParams) (OcoReport, error) {
	groupID := order.NewClientID("oco")
	report := OcoReport{GroupID: groupID}

	tpReq := order.Request{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Type:     order.TypeOcoLeg,
		Quantity: p.Quantity,
		Price:    p.TakeProfitPrice,
		ClientID: groupID + "-tp",
	}
	stopReq := order.Request{
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      order.TypeStopLimit,
		Quantity:  p.Quantity,
		Price:     p.StopLimitPrice,
		StopPrice: p.StopPrice,
		ClientID:  groupID + "-sl",
	}

	// 双腿先全部校验再提交, 避免只挂出半组。
	if err := s.validator.Validate(ctx, tpReq); err != nil {
		return report, err
	}
	if err := s.validator.Validate(ctx, stopReq); err != nil {
		return report, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		h, err := s.submitOrder(groupCtx, tpReq)
		if err != nil {
			return fmt.Errorf("止盈腿提交失败: %w", err)
		}
		report.TakeProfit = h
		return nil
	})
	group.Go(func() error {
		h, err := s.submitOrder(groupCtx, stopReq)
		if err != nil {
			return fmt.Errorf("止损腿提交失败: %w", err)
		}
		report.Stop = h
		return nil
	})

	if err := group.Wait(); err != nil {
		// 半组失败: 撤掉已挂出的一腿再返回。
		for _, h := range []*order.Handle{report.TakeProfit, report.Stop} {
			if h == nil {
				continue
			}
			if cancelErr := s.cancelOrder(ctx, h.Symbol, h.ExchangeOrderID); cancelErr != nil {
				s.logger.Error("清理半组 OCO 失败, 需人工处理",
					zap.String("group_id", groupID),
					zap.String("exchange_order_id", h.ExchangeOrderID),
					zap.Error(cancelErr),
				)
			}
		}
		return report, err
	}

	s.logger.Info("OCO 双腿已挂出",
		zap.String("group_id", groupID),
		zap.String("take_profit_id", report.TakeProfit.ExchangeOrderID),
		zap.String("stop_id", report.Stop.ExchangeOrderID),
	)

	pollCtx := ctx
	if s.exec.OcoTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.exec.OcoTimeout)
		defer cancel()
	}

	return s.superviseOco(pollCtx, report)
}

// superviseOco 轮询双腿直至组内终局。每组至多发出一次由成交驱动的撤单,
// 目标为首个进入成交状态之腿的对腿。撤单落地后成交腿可能仍在部分
// 成交中继续工作, 组即视为终局, 以最近观测上报。
func (s *Supervisor) superviseOco(ctx context.Context, report OcoReport) (OcoReport, error) {
	legs := [2]*order.Handle{report.TakeProfit, report.Stop}
	var canceledSibling *order.Handle

	for {
		if legs[0].Status().Terminal() && legs[1].Status().Terminal() {
			break
		}
		if canceledSibling != nil && canceledSibling.Status().Terminal() {
			break
		}

		if err := s.sleep(ctx, s.exec.PollInterval); err != nil {
			return report, err
		}

		for _, leg := range legs {
			if err := s.refresh(ctx, leg); err != nil {
				return report, err
			}
		}

		if canceledSibling == nil {
			var firstFilling, sibling *order.Handle
			switch {
			case filling(legs[0]):
				firstFilling, sibling = legs[0], legs[1]
			case filling(legs[1]):
				firstFilling, sibling = legs[1], legs[0]
			}
			if firstFilling != nil {
				canceledSibling = sibling
				s.logger.Info("OCO 一腿进入成交状态, 撤销对腿",
					zap.String("group_id", report.GroupID),
					zap.String("filled_leg", firstFilling.ExchangeOrderID),
					zap.String("sibling", sibling.ExchangeOrderID),
				)
				if err := s.cancelOrder(ctx, sibling.Symbol, sibling.ExchangeOrderID); err != nil {
					return report, fmt.Errorf("撤销 OCO 对腿失败: %w", err)
				}
				s.journal.RecordHandle(ctx, journal.EventCanceled, sibling, "oco sibling cancel", s.simulated)
			}
		}
	}

	return s.settleOco(ctx, report)
}

// settleOco 判定组内终局: 双腿均有成交即为竞态, 如实上报而不掩盖。
func (s *Supervisor) settleOco(ctx context.Context, report OcoReport) (OcoReport, error) {
	tpFilled := report.TakeProfit.Filled().IsPositive()
	stopFilled := report.Stop.Filled().IsPositive()

	switch {
	case tpFilled && stopFilled:
		report.Raced = true
		detail := fmt.Sprintf("双腿成交: tp=%s stop=%s",
			report.TakeProfit.Filled(), report.Stop.Filled())
		s.journal.RecordHandle(ctx, journal.EventOcoRace, report.TakeProfit, detail, s.simulated)
		s.logger.Error("OCO 竞态: 双腿均有成交, 需人工核对仓位",
			zap.String("group_id", report.GroupID),
			zap.String("take_profit_filled", report.TakeProfit.Filled().String()),
			zap.String("stop_filled", report.Stop.Filled().String()),
		)
		return report, fmt.Errorf("%w: group=%s", ErrOcoRace, report.GroupID)
	case tpFilled:
		report.FilledLeg = report.TakeProfit
		report.CanceledLeg = report.Stop
	case stopFilled:
		report.FilledLeg = report.Stop
		report.CanceledLeg = report.TakeProfit
	}

	return report, nil
}

// filling 判断腿是否已进入成交状态。
func filling(h *order.Handle) bool {
	return h.Filled().IsPositive() ||
		h.Status() == order.StatusPartiallyFilled ||
		h.Status() == order.StatusFilled
}
