package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/exchange"
	"order-exec/internal/journal"
	"order-exec/internal/order"
)

// TwapParams 描述一次时间加权拆单计划。
type TwapParams struct {
	Symbol        string
	Side          order.Side
	TotalQuantity decimal.Decimal
	SliceCount    int
	Interval      time.Duration
}

// TwapSlice 为计划内单个切片的结果。
type TwapSlice struct {
	Index       int
	Quantity    decimal.Decimal
	Handle      *order.Handle
	SubmittedAt time.Time
	Failed      bool
	Err         error
}

// TwapReport 汇总整个计划: 请求总量、实际成交总量与失败切片索引。
type TwapReport struct {
	Symbol         string
	Side           order.Side
	TotalRequested decimal.Decimal
	TotalFilled    decimal.Decimal
	Slices         []TwapSlice
	FailedSlices   []int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// tally 汇总各切片已观测到的成交量。提前中止的计划也必须携带
// 已执行部分的成交汇总, 否则报告无法用于对账。
func (r *TwapReport) tally() {
	r.TotalFilled = decimal.Zero
	for _, slice := range r.Slices {
		if slice.Handle != nil {
			r.TotalFilled = r.TotalFilled.Add(slice.Handle.Filled())
		}
	}
}

// splitQuantity 把总量拆成 count 份: 前 count-1 份向下取整到步长,
// 余量全部归入最后一份, 保证各份之和恒等于总量(无舍入漂移)。
func splitQuantity(total decimal.Decimal, count int, step decimal.Decimal) ([]decimal.Decimal, error) {
	if count <= 0 {
		return nil, fmt.Errorf("execution: 切片数必须为正, 实际为 %d", count)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("execution: 总量必须为正, 实际为 %s", total)
	}

	base := total.Div(decimal.NewFromInt(int64(count)))
	if step.IsPositive() {
		base = base.Sub(base.Mod(step))
	}
	if !base.IsPositive() {
		return nil, fmt.Errorf("execution: 总量 %s 不足以按步长 %s 拆成 %d 份", total, step, count)
	}

	slices := make([]decimal.Decimal, count)
	for i := 0; i < count-1; i++ {
		slices[i] = base
	}
	last := total.Sub(base.Mul(decimal.NewFromInt(int64(count - 1))))
	if !last.IsPositive() {
		return nil, fmt.Errorf("execution: 末份切片数量非正 (%s), 请调整份数", last)
	}
	slices[count-1] = last

	return slices, nil
}

// RunTwap 执行 TWAP 计划: 切片按计划起点的绝对时刻调度(而非相对上一切片
// 完成时刻), 避免延迟逐片累积。单片失败不中止计划, 仅记入失败索引。
// 调用方可在切片间隙取消计划; 已提交且等待成交的切片不会被追溯撤销。
func (s *Supervisor) RunTwap(ctx context.Context, p TwapParams) (TwapReport, error) {
	report := TwapReport{
		Symbol:         p.Symbol,
		Side:           p.Side,
		TotalRequested: p.TotalQuantity,
	}

	if p.Interval <= 0 {
		return report, fmt.Errorf("execution: 切片间隔必须为正, 实际为 %s", p.Interval)
	}

	filters, err := s.Filters(ctx, p.Symbol)
	if err != nil {
		return report, err
	}

	quantities, err := splitQuantity(p.TotalQuantity, p.SliceCount, filters.StepSize)
	if err != nil {
		return report, err
	}

	start := s.now()
	report.StartedAt = start

	s.logger.Info("TWAP 计划开始",
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.String("total", p.TotalQuantity.String()),
		zap.Int("slices", p.SliceCount),
		zap.Duration("interval", p.Interval),
	)

	for i, qty := range quantities {
		target := start.Add(time.Duration(i) * p.Interval)
		if wait := target.Sub(s.now()); wait > 0 {
			if sleepErr := s.sleep(ctx, wait); sleepErr != nil {
				report.tally()
				report.FinishedAt = s.now()
				return report, sleepErr
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.tally()
			report.FinishedAt = s.now()
			return report, ctxErr
		}

		slice := TwapSlice{Index: i, Quantity: qty, SubmittedAt: s.now()}

		// 单片的重试预算严格限制在下一切片到期之前。
		deadline := start.Add(time.Duration(i+1) * p.Interval)
		sliceCtx, cancelSlice := context.WithDeadline(ctx, deadline)

		req := order.Request{
			Symbol:   p.Symbol,
			Side:     p.Side,
			Type:     order.TypeTwapSlice,
			Quantity: qty,
			ClientID: order.NewClientID(fmt.Sprintf("twap%d", i)),
		}

		handle, submitErr := s.submitOrder(sliceCtx, req)
		if submitErr != nil {
			cancelSlice()
			if ctx.Err() != nil {
				report.Slices = append(report.Slices, slice)
				report.tally()
				report.FinishedAt = s.now()
				return report, ctx.Err()
			}
			if errors.Is(submitErr, exchange.ErrAuth) {
				// 认证失败对整个运行致命, 继续执行后续切片没有意义。
				report.Slices = append(report.Slices, slice)
				report.tally()
				report.FinishedAt = s.now()
				return report, submitErr
			}
			slice.Failed = true
			slice.Err = submitErr
			report.FailedSlices = append(report.FailedSlices, i)
			report.Slices = append(report.Slices, slice)
			s.journal.Record(sliceDetachedCtx(ctx), journal.Event{
				Type:      journal.EventSliceFailed,
				Symbol:    p.Symbol,
				ClientID:  req.ClientID,
				Quantity:  qty.String(),
				Detail:    fmt.Sprintf("slice %d: %v", i, submitErr),
				Simulated: s.simulated,
			})
			s.logger.Error("TWAP 切片失败, 计划继续",
				zap.Int("slice", i),
				zap.String("quantity", qty.String()),
				zap.Error(submitErr),
			)
			continue
		}

		slice.Handle = handle

		// 在下一切片到期前顺带跟踪成交; 未终态不算失败, 收尾时再刷新。
		if waitErr := s.awaitTerminal(sliceCtx, handle); waitErr != nil && ctx.Err() != nil {
			cancelSlice()
			report.Slices = append(report.Slices, slice)
			report.tally()
			report.FinishedAt = s.now()
			return report, ctx.Err()
		}
		cancelSlice()

		report.Slices = append(report.Slices, slice)
	}

	// 收尾: 对仍未终态的切片做一次状态刷新, 汇总成交。
	for _, slice := range report.Slices {
		if slice.Handle == nil {
			continue
		}
		if err := s.refresh(ctx, slice.Handle); err != nil {
			s.logger.Warn("收尾刷新切片状态失败",
				zap.Int("slice", slice.Index),
				zap.Error(err),
			)
		}
	}
	report.tally()

	report.FinishedAt = s.now()

	s.logger.Info("TWAP 计划完成",
		zap.String("symbol", p.Symbol),
		zap.String("requested", report.TotalRequested.String()),
		zap.String("filled", report.TotalFilled.String()),
		zap.Ints("failed_slices", report.FailedSlices),
	)

	return report, nil
}

// sliceDetachedCtx 在计划被取消时仍允许流水落盘。
func sliceDetachedCtx(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}
