package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/config"
	"order-exec/internal/exchange"
	"order-exec/internal/journal"
	"order-exec/internal/order"
	"order-exec/internal/validate"
)

// 限频等待不消耗瞬时错误的重试预算, 但总次数仍需封顶以避免死循环。
const maxRateLimitWaits = 10

// Supervisor 是唯一与交易所网关交互的组件: 统一重试策略、限频退避,
// 并对外暴露引擎的全部公开操作。其余组件只依赖"调用最终成功或返回
// 类型化终态错误"这一假设。
type Supervisor struct {
	gw        exchange.Gateway
	validator *validate.Validator
	journal   *journal.Journal
	retry     config.RetryConfig
	exec      config.ExecutionConfig
	logger    *zap.Logger
	simulated bool

	// 时间注入点, 测试用。
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor 创建执行监督器。journal 可为 nil。
func NewSupervisor(gw exchange.Gateway, jnl *journal.Journal, retry config.RetryConfig, exec config.ExecutionConfig, simulated bool, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.MinDelay <= 0 {
		retry.MinDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 5 * time.Second
	}
	if retry.RateLimitFallback <= 0 {
		retry.RateLimitFallback = 30 * time.Second
	}
	if exec.PollInterval <= 0 {
		exec.PollInterval = 2 * time.Second
	}
	if exec.TriggerInterval <= 0 {
		exec.TriggerInterval = 2 * time.Second
	}

	s := &Supervisor{
		gw:        gw,
		journal:   jnl,
		retry:     retry,
		exec:      exec,
		logger:    logger,
		simulated: simulated,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepWithContext,
	}
	s.validator = validate.NewValidator(s, validate.NewCache(), logger)
	return s
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// call 以统一策略包装一次网关调用: 瞬时错误指数退避重试,
// 限频按交易所建议窗口(或回退值)等待, 应用层拒绝与认证失败立即返回。
func (s *Supervisor) call(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	rlWaits := 0
	delay := s.retry.MinDelay

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				s.logger.Info("网关调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if rl, ok := exchange.AsRateLimit(err); ok {
			rlWaits++
			if rlWaits > maxRateLimitWaits {
				s.logger.Error("限频等待次数超限",
					zap.String("operation", operation),
					zap.Int("waits", rlWaits),
				)
				return err
			}
			wait := rl.ResetAfter
			if wait <= 0 {
				wait = s.retry.RateLimitFallback
			}
			// 限频不消耗瞬时重试预算。
			attempt--
			s.logger.Warn("触发交易所限频, 等待重置窗口",
				zap.String("operation", operation),
				zap.Duration("wait", wait),
			)
			if sleepErr := s.sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if !exchange.IsTransient(err) || attempt >= s.retry.MaxAttempts {
			s.logger.Error("网关调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > s.retry.MaxDelay {
			wait = s.retry.MaxDelay
		}
		s.logger.Warn("网关调用失败, 等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if sleepErr := s.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}

		delay *= 2
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}
}

// SymbolFilters 经重试策略查询交易对过滤器(validate.FilterSource 实现)。
func (s *Supervisor) SymbolFilters(ctx context.Context, symbol string) (exchange.Filters, error) {
	var filters exchange.Filters
	err := s.call(ctx, "symbol_filters", func() error {
		f, callErr := s.gw.SymbolFilters(ctx, symbol)
		if callErr != nil {
			return callErr
		}
		filters = f
		return nil
	})
	return filters, err
}

// LastPrice 经重试策略查询最新成交价(validate.FilterSource 实现)。
func (s *Supervisor) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.call(ctx, "last_price", func() error {
		p, callErr := s.gw.LastPrice(ctx, symbol)
		if callErr != nil {
			return callErr
		}
		price = p
		return nil
	})
	return price, err
}

// Filters 走过滤器缓存查询, 供 validate 命令复用。
func (s *Supervisor) Filters(ctx context.Context, symbol string) (exchange.Filters, error) {
	return s.validator.Filters(ctx, symbol)
}

// submitOrder 校验并提交一笔订单, 写入流水。
func (s *Supervisor) submitOrder(ctx context.Context, req order.Request) (*order.Handle, error) {
	if err := s.validator.Validate(ctx, req); err != nil {
		return nil, err
	}

	var handle *order.Handle
	err := s.call(ctx, "place_order", func() error {
		h, callErr := s.gw.PlaceOrder(ctx, req)
		if callErr != nil {
			return callErr
		}
		handle = h
		return nil
	})
	if err != nil {
		if exchange.IsRejected(err) {
			s.journal.Record(ctx, journal.Event{
				Type:      journal.EventRejected,
				Symbol:    req.Symbol,
				ClientID:  req.ClientID,
				Status:    order.StatusRejected,
				Quantity:  req.Quantity.String(),
				Detail:    err.Error(),
				Simulated: s.simulated,
			})
		}
		return nil, err
	}

	s.journal.RecordHandle(ctx, journal.EventSubmitted, handle, "", s.simulated)
	return handle, nil
}

// cancelOrder 撤销订单。已终态的订单视为撤销成功。
func (s *Supervisor) cancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	err := s.call(ctx, "cancel_order", func() error {
		return s.gw.CancelOrder(ctx, symbol, exchangeOrderID)
	})
	if err != nil && exchange.IsRejected(err) {
		// 拒绝意味着订单已撤或已成, 撤销意图已达成。
		s.logger.Debug("撤销目标已处于终态",
			zap.String("symbol", symbol),
			zap.String("exchange_order_id", exchangeOrderID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// queryOrder 查询一次订单状态。
func (s *Supervisor) queryOrder(ctx context.Context, symbol, exchangeOrderID string) (order.Update, error) {
	var update order.Update
	err := s.call(ctx, "query_order", func() error {
		u, callErr := s.gw.QueryOrder(ctx, symbol, exchangeOrderID)
		if callErr != nil {
			return callErr
		}
		update = u
		return nil
	})
	return update, err
}

// awaitTerminal 轮询订单直至终态或 ctx 到期, 成交变化写入流水。
func (s *Supervisor) awaitTerminal(ctx context.Context, h *order.Handle) error {
	for {
		if h.Status().Terminal() {
			return nil
		}
		if err := s.sleep(ctx, s.exec.PollInterval); err != nil {
			return err
		}
		update, err := s.queryOrder(ctx, h.Symbol, h.ExchangeOrderID)
		if err != nil {
			return err
		}
		if h.Apply(update, s.logger) {
			s.journal.RecordHandle(ctx, journal.EventFillUpdate, h, "", s.simulated)
		}
	}
}

// refresh 对未终态句柄做一次状态刷新。
func (s *Supervisor) refresh(ctx context.Context, h *order.Handle) error {
	if h.Status().Terminal() {
		return nil
	}
	update, err := s.queryOrder(ctx, h.Symbol, h.ExchangeOrderID)
	if err != nil {
		return err
	}
	if h.Apply(update, s.logger) {
		s.journal.RecordHandle(ctx, journal.EventFillUpdate, h, "", s.simulated)
	}
	return nil
}

// PlaceMarket 提交市价单并等待终态。
func (s *Supervisor) PlaceMarket(ctx context.Context, symbol string, side order.Side, quantity decimal.Decimal) (*order.Handle, error) {
	req := order.Request{
		Symbol:   symbol,
		Side:     side,
		Type:     order.TypeMarket,
		Quantity: quantity,
		ClientID: order.NewClientID("mkt"),
	}

	handle, err := s.submitOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	// 市价单通常立即成交, 轮询窗口有限即可。
	waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if waitErr := s.awaitTerminal(waitCtx, handle); waitErr != nil && ctx.Err() == nil {
		s.logger.Warn("等待市价单终态超时, 以最近观测为准",
			zap.String("client_id", handle.ClientID),
			zap.String("status", string(handle.Status())),
		)
	}

	return handle, nil
}

// PlaceLimit 提交限价单。挂单不等待成交, 由交易所继续撮合。
func (s *Supervisor) PlaceLimit(ctx context.Context, symbol string, side order.Side, quantity, price decimal.Decimal) (*order.Handle, error) {
	req := order.Request{
		Symbol:   symbol,
		Side:     side,
		Type:     order.TypeLimit,
		Quantity: quantity,
		Price:    price,
		ClientID: order.NewClientID("lmt"),
	}
	return s.submitOrder(ctx, req)
}

// CancelOrder 对外暴露的撤单操作。撤销意图达成后回查一次实际终态:
// 目标若在撤单前已成交, 流水记录的是观测到的 FILLED 而非假定的已撤。
func (s *Supervisor) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := s.cancelOrder(ctx, symbol, exchangeOrderID); err != nil {
		return err
	}

	status := order.StatusCanceled
	filled := ""
	if update, queryErr := s.queryOrder(ctx, symbol, exchangeOrderID); queryErr == nil {
		status = update.Status
		filled = update.Filled.String()
	} else {
		s.logger.Debug("撤单后回查失败, 流水按已撤记录",
			zap.String("symbol", symbol),
			zap.String("exchange_order_id", exchangeOrderID),
			zap.Error(queryErr),
		)
	}

	s.journal.Record(ctx, journal.Event{
		Type:            journal.EventCanceled,
		Symbol:          symbol,
		ExchangeOrderID: exchangeOrderID,
		Status:          status,
		Filled:          filled,
		Simulated:       s.simulated,
	})
	return nil
}
