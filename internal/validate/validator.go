package validate

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/exchange"
	"order-exec/internal/order"
)

// Error 为校验失败, 指明具体被违反的约束。校验错误不重试。
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate: %s", e.Reason)
}

func failf(format string, args ...interface{}) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// FilterSource 提供过滤器及最新价查询。实际注入执行监督器,
// 使网关调用统一经过重试策略。
type FilterSource interface {
	SymbolFilters(ctx context.Context, symbol string) (exchange.Filters, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Cache 按交易对缓存过滤器: 首次校验时拉取, 运行期内不失效。
// 写入幂等, 首次填充的竞争是良性的。
type Cache struct {
	mu      sync.Mutex
	filters map[string]exchange.Filters
}

// NewCache 创建空的过滤器缓存。
func NewCache() *Cache {
	return &Cache{filters: make(map[string]exchange.Filters)}
}

func (c *Cache) get(symbol string) (exchange.Filters, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.filters[symbol]
	return f, ok
}

func (c *Cache) put(symbol string, f exchange.Filters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.filters[symbol]; !ok {
		c.filters[symbol] = f
	}
}

// Validator 对订单请求做纯本地校验, 仅在过滤器缓存未命中时触发一次网关查询。
type Validator struct {
	source FilterSource
	cache  *Cache
	logger *zap.Logger
}

// NewValidator 创建校验器。
func NewValidator(source FilterSource, cache *Cache, logger *zap.Logger) *Validator {
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		source: source,
		cache:  cache,
		logger: logger,
	}
}

// Filters 返回交易对过滤器, 缓存未命中时从网关拉取并填充缓存。
func (v *Validator) Filters(ctx context.Context, symbol string) (exchange.Filters, error) {
	if f, ok := v.cache.get(symbol); ok {
		return f, nil
	}

	f, err := v.source.SymbolFilters(ctx, symbol)
	if err != nil {
		return exchange.Filters{}, err
	}

	v.cache.put(symbol, f)
	v.logger.Debug("过滤器缓存已填充",
		zap.String("symbol", symbol),
		zap.String("tick_size", f.TickSize.String()),
		zap.String("step_size", f.StepSize.String()),
		zap.String("min_notional", f.MinNotional.String()),
	)
	return f, nil
}

// Validate 校验一笔订单请求。任一约束违反即失败, 不会部分应用。
func (v *Validator) Validate(ctx context.Context, req order.Request) error {
	if req.Symbol == "" {
		return failf("交易对不能为空")
	}
	if req.Side != order.SideBuy && req.Side != order.SideSell {
		return failf("无效的方向 %q", req.Side)
	}
	if !req.Quantity.IsPositive() {
		return failf("数量必须为正, 实际为 %s", req.Quantity)
	}
	if req.Type.RequiresPrice() && !req.Price.IsPositive() {
		return failf("%s 订单必须携带正的限价", req.Type)
	}
	if req.Type == order.TypeStopLimit && !req.StopPrice.IsPositive() {
		return failf("STOP_LIMIT 订单必须携带正的触发价")
	}

	filters, err := v.Filters(ctx, req.Symbol)
	if err != nil {
		return err
	}

	if filters.StepSize.IsPositive() && !isMultipleOf(req.Quantity, filters.StepSize) {
		return failf("数量 %s 不是步长 %s 的整数倍", req.Quantity, filters.StepSize)
	}
	if req.Price.IsPositive() && filters.TickSize.IsPositive() && !isMultipleOf(req.Price, filters.TickSize) {
		return failf("价格 %s 不是最小变动价位 %s 的整数倍", req.Price, filters.TickSize)
	}
	if req.StopPrice.IsPositive() && filters.TickSize.IsPositive() && !isMultipleOf(req.StopPrice, filters.TickSize) {
		return failf("触发价 %s 不是最小变动价位 %s 的整数倍", req.StopPrice, filters.TickSize)
	}

	if filters.MinNotional.IsPositive() {
		notionalPrice := req.Price
		if !notionalPrice.IsPositive() {
			last, priceErr := v.source.LastPrice(ctx, req.Symbol)
			if priceErr != nil {
				return priceErr
			}
			notionalPrice = last
		}
		notional := req.Quantity.Mul(notionalPrice)
		if notional.LessThan(filters.MinNotional) {
			return failf("名义价值 %s 低于最小要求 %s", notional, filters.MinNotional)
		}
	}

	return nil
}

// isMultipleOf 用精确小数运算判断 value 是否为 unit 的整数倍。
func isMultipleOf(value, unit decimal.Decimal) bool {
	return value.Mod(unit).IsZero()
}
