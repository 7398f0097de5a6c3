package order

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusPendingSubmit   Status = "PENDING_SUBMIT"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal 判断状态是否为终态。终态订单不再接受任何迁移。
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Update 为网关观测到的一次订单状态。
type Update struct {
	Status Status
	Filled decimal.Decimal
}

// canTransition 给出状态机允许的迁移。同状态重放视为合法的空操作。
func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPendingSubmit:
		// 提交被拒绝时订单可能从未到达 SUBMITTED。
		return to == StatusSubmitted || to == StatusRejected
	case StatusSubmitted:
		return to == StatusPartiallyFilled || to.Terminal()
	case StatusPartiallyFilled:
		return to == StatusFilled || to == StatusCanceled || to == StatusExpired
	}
	return false
}

// Apply 将网关观测合并进 Handle。保证:
//   - 成交量单调不减, 重复应用同一成交为幂等空操作;
//   - 终态封存, 与终态矛盾的更新仅记录日志, 不改写本地状态。
//
// 返回值表示本次更新是否改变了本地状态。
func (h *Handle) Apply(u Update, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}

	if h.status.Terminal() {
		if u.Status != h.status || !u.Filled.Equal(h.filled) {
			logger.Warn("终态订单收到矛盾更新, 已忽略",
				zap.String("client_id", h.ClientID),
				zap.String("exchange_order_id", h.ExchangeOrderID),
				zap.String("terminal_status", string(h.status)),
				zap.String("update_status", string(u.Status)),
				zap.String("local_filled", h.filled.String()),
				zap.String("update_filled", u.Filled.String()),
			)
		}
		return false
	}

	changed := false

	if u.Filled.GreaterThan(h.filled) {
		h.filled = u.Filled
		changed = true
	}

	if u.Status != h.status {
		if !canTransition(h.status, u.Status) {
			logger.Warn("状态迁移不被允许, 已忽略",
				zap.String("client_id", h.ClientID),
				zap.String("from", string(h.status)),
				zap.String("to", string(u.Status)),
			)
			return changed
		}
		h.status = u.Status
		changed = true
	}

	return changed
}
