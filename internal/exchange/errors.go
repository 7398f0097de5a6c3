package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrTransient 表示瞬时传输层错误, 由监督器按退避策略重试。
	ErrTransient = errors.New("exchange: 瞬时错误")
	// ErrAuth 表示认证失败, 对整个运行致命, 不重试。
	ErrAuth = errors.New("exchange: 认证失败")
)

// RateLimitError 表示触发了交易所限频。ResetAfter 为交易所建议的等待窗口,
// 为零时由调用方自行选择回退等待时间。
type RateLimitError struct {
	ResetAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.ResetAfter > 0 {
		return fmt.Sprintf("exchange: 触发限频, %s 后重置: %s", e.ResetAfter, e.Message)
	}
	return fmt.Sprintf("exchange: 触发限频: %s", e.Message)
}

// RejectError 表示应用层拒绝(坏参数、余额不足等), 重复提交只会复现同样的拒绝,
// 因此永不重试。
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("exchange: 订单被拒绝: %s", e.Reason)
}

// Classify 将底层错误归一化为本系统的错误分类。
// context 错误原样返回, 供调用方区分主动取消。
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType:
			return &RateLimitError{Message: ccxtErr.Message}
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return fmt.Errorf("%w: %s", ErrTransient, ccxtErr.Message)
		case ccxt.AuthenticationErrorErrType,
			ccxt.PermissionDeniedErrType,
			ccxt.AccountSuspendedErrType:
			return fmt.Errorf("%w: %s", ErrAuth, ccxtErr.Message)
		default:
			return &RejectError{Reason: ccxtErr.Message}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, netErr)
	}

	return &RejectError{Reason: err.Error()}
}

// IsTransient 判断错误是否可按退避策略重试。
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// AsRateLimit 提取限频错误。
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsRejected 判断错误是否为应用层拒绝。
func IsRejected(err error) bool {
	var reject *RejectError
	return errors.As(err, &reject)
}

// orderMissing 判断错误是否表示订单在交易所侧已不存在。
func orderMissing(err error) bool {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		return ccxtErr.Type == ccxt.OrderNotFoundErrType
	}
	return false
}
