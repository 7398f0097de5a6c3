package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/config"
	"order-exec/internal/order"
)

// Client 基于 ccxt 的 Binance USDⓈ-M 订单网关。只负责单次调用与错误归一化,
// 不在此层重试。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
	markets       map[string]marketMeta
}

// marketMeta 缓存按交易所原始符号索引的市场元数据。
type marketMeta struct {
	unified  string
	tradable bool
	filters  Filters
}

// NewClient 构造网关客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		markets:  make(map[string]marketMeta),
	}, nil
}

// SupportsNativeStop 返回是否将条件触发交由交易所执行。
func (c *Client) SupportsNativeStop() bool {
	return c.cfg.NativeStop
}

// PlaceOrder 提交订单。穷举处理全部订单类型。
func (c *Client) PlaceOrder(ctx context.Context, req order.Request) (*order.Handle, error) {
	meta, err := c.market(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	side := strings.ToLower(string(req.Side))
	amount, _ := req.Quantity.Float64()
	params := map[string]interface{}{
		"newClientOrderId": req.ClientID,
	}

	var (
		raw    ccxt.Order
		rawErr error
	)

	switch req.Type {
	case order.TypeMarket, order.TypeTwapSlice:
		raw, rawErr = c.exchange.CreateMarketOrder(meta.unified, side, amount,
			ccxt.WithCreateMarketOrderParams(params))
	case order.TypeLimit, order.TypeOcoLeg:
		params["timeInForce"] = "GTC"
		price, _ := req.Price.Float64()
		raw, rawErr = c.exchange.CreateLimitOrder(meta.unified, side, amount, price,
			ccxt.WithCreateLimitOrderParams(params))
	case order.TypeStopLimit:
		params["timeInForce"] = "GTC"
		stop, _ := req.StopPrice.Float64()
		params["stopPrice"] = stop
		price, _ := req.Price.Float64()
		raw, rawErr = c.exchange.CreateOrder(meta.unified, "limit", side, amount,
			ccxt.WithCreateOrderPrice(price),
			ccxt.WithCreateOrderParams(params))
	}

	if rawErr != nil {
		return nil, Classify(rawErr)
	}

	update := unifiedUpdate(derefString(raw.Status), decimal.NewFromFloat(derefFloat(raw.Filled)))
	handle := order.NewHandle(req, derefString(raw.Id), order.StatusPendingSubmit, decimal.Zero)
	handle.Apply(order.Update{Status: order.StatusSubmitted}, c.logger)
	handle.Apply(update, c.logger)

	c.logger.Info("订单已提交",
		zap.String("symbol", req.Symbol),
		zap.String("client_id", req.ClientID),
		zap.String("exchange_order_id", handle.ExchangeOrderID),
		zap.String("type", string(req.Type)),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()),
		zap.String("status", string(handle.Status())),
	)

	return handle, nil
}

// CancelOrder 撤销订单。交易所侧订单已不存在视为撤销成功(幂等意图)。
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	meta, err := c.market(ctx, symbol)
	if err != nil {
		return err
	}

	_, rawErr := c.exchange.CancelOrder(exchangeOrderID, ccxt.WithCancelOrderSymbol(meta.unified))
	if rawErr != nil {
		if orderMissing(rawErr) {
			c.logger.Debug("撤销目标已不存在, 视为成功",
				zap.String("symbol", symbol),
				zap.String("exchange_order_id", exchangeOrderID),
			)
			return nil
		}
		return Classify(rawErr)
	}

	return nil
}

// QueryOrder 查询订单状态。
func (c *Client) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (order.Update, error) {
	meta, err := c.market(ctx, symbol)
	if err != nil {
		return order.Update{}, err
	}

	raw, rawErr := c.exchange.FetchOrder(exchangeOrderID, ccxt.WithFetchOrderSymbol(meta.unified))
	if rawErr != nil {
		return order.Update{}, Classify(rawErr)
	}

	return unifiedUpdate(derefString(raw.Status), decimal.NewFromFloat(derefFloat(raw.Filled))), nil
}

// SymbolFilters 返回交易对过滤器, 交易对不可交易时返回拒绝错误。
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (Filters, error) {
	meta, err := c.market(ctx, symbol)
	if err != nil {
		return Filters{}, err
	}
	if !meta.tradable {
		return Filters{}, &RejectError{Reason: fmt.Sprintf("交易对 %s 当前不可交易", symbol)}
	}
	return meta.filters, nil
}

// LastPrice 获取最新成交价。
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	meta, err := c.market(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	ticker, rawErr := c.exchange.FetchTicker(meta.unified)
	if rawErr != nil {
		return decimal.Zero, Classify(rawErr)
	}

	last := derefFloat(ticker.Last)
	if last <= 0 {
		return decimal.Zero, fmt.Errorf("%w: 交易对 %s 无最新成交价", ErrTransient, symbol)
	}

	return decimal.NewFromFloat(last), nil
}

// FetchCandles 获取K线, 供 track 命令计算指标。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error) {
	meta, err := c.market(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	raw, rawErr := c.exchange.FetchOHLCV(meta.unified,
		ccxt.WithFetchOHLCVTimeframe(timeframe),
		ccxt.WithFetchOHLCVLimit(limit),
	)
	if rawErr != nil {
		return nil, Classify(rawErr)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// market 返回指定交易对的元数据, 首次访问时惰性加载全部市场。
func (c *Client) market(ctx context.Context, symbol string) (marketMeta, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return marketMeta{}, err
	}

	meta, ok := c.markets[strings.ToUpper(symbol)]
	if !ok {
		return marketMeta{}, &RejectError{Reason: fmt.Sprintf("未知交易对 %s", symbol)}
	}
	return meta, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	raw, err := c.exchange.LoadMarkets()
	if err != nil {
		return Classify(err)
	}

	for unified, m := range raw {
		id := strings.ToUpper(derefString(m.Id))
		if id == "" {
			continue
		}
		c.markets[id] = marketMeta{
			unified:  unified,
			tradable: marketTradable(m.Info),
			filters:  parseRawFilters(id, m.Info),
		}
	}

	c.marketsLoaded = true
	c.logger.Info("市场元数据加载完成", zap.Int("markets", len(c.markets)))
	return nil
}

func marketTradable(info map[string]interface{}) bool {
	status, _ := info["status"].(string)
	return strings.EqualFold(status, "TRADING")
}

// parseRawFilters 解析交易所原始 filters 数组中的 LOT_SIZE/PRICE_FILTER/
// MIN_NOTIONAL 约束。
func parseRawFilters(symbol string, info map[string]interface{}) Filters {
	filters := Filters{Symbol: symbol}

	rawList, _ := info["filters"].([]interface{})
	for _, item := range rawList {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch entry["filterType"] {
		case "LOT_SIZE":
			filters.StepSize = parseDecimalField(entry["stepSize"])
		case "PRICE_FILTER":
			filters.TickSize = parseDecimalField(entry["tickSize"])
		case "MIN_NOTIONAL":
			filters.MinNotional = parseDecimalField(entry["notional"])
		}
	}

	return filters
}

func parseDecimalField(raw interface{}) decimal.Decimal {
	switch v := raw.(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}

// unifiedUpdate 将 ccxt 统一状态映射到本地状态机。
func unifiedUpdate(status string, filled decimal.Decimal) order.Update {
	var mapped order.Status
	switch status {
	case "open":
		mapped = order.StatusSubmitted
		if filled.IsPositive() {
			mapped = order.StatusPartiallyFilled
		}
	case "closed":
		mapped = order.StatusFilled
	case "canceled":
		mapped = order.StatusCanceled
	case "rejected":
		mapped = order.StatusRejected
	case "expired":
		mapped = order.StatusExpired
	default:
		mapped = order.StatusSubmitted
		if filled.IsPositive() {
			mapped = order.StatusPartiallyFilled
		}
	}
	return order.Update{Status: mapped, Filled: filled}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

var _ Gateway = (*Client)(nil)
