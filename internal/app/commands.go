package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-exec/internal/execution"
	"order-exec/internal/indicator"
	"order-exec/internal/order"
)

const (
	defaultTrackSymbol    = "BTCUSDT"
	defaultTrackTimeframe = "1h"
	trackCandleLimit      = 100
)

func (a *App) runMarket(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("market 需要 3 个参数: <symbol> <side> <qty>")
	}
	symbol := strings.ToUpper(args[0])
	side, err := order.ParseSide(args[1])
	if err != nil {
		return err
	}
	qty, err := parseDecimal("qty", args[2])
	if err != nil {
		return err
	}

	h, err := a.supervisor.PlaceMarket(ctx, symbol, side, qty)
	if err != nil {
		return err
	}
	printHandle("市价单", h)
	return nil
}

func (a *App) runLimit(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("limit 需要 4 个参数: <symbol> <side> <qty> <price>")
	}
	symbol := strings.ToUpper(args[0])
	side, err := order.ParseSide(args[1])
	if err != nil {
		return err
	}
	qty, err := parseDecimal("qty", args[2])
	if err != nil {
		return err
	}
	price, err := parseDecimal("price", args[3])
	if err != nil {
		return err
	}

	h, err := a.supervisor.PlaceLimit(ctx, symbol, side, qty, price)
	if err != nil {
		return err
	}
	printHandle("限价单", h)
	return nil
}

func (a *App) runOCO(ctx context.Context, args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("oco 需要 6 个参数: <symbol> <side> <qty> <takeProfit> <stopPrice> <stopLimitPrice>")
	}
	symbol := strings.ToUpper(args[0])
	side, err := order.ParseSide(args[1])
	if err != nil {
		return err
	}
	qty, err := parseDecimal("qty", args[2])
	if err != nil {
		return err
	}
	takeProfit, err := parseDecimal("takeProfit", args[3])
	if err != nil {
		return err
	}
	stopPrice, err := parseDecimal("stopPrice", args[4])
	if err != nil {
		return err
	}
	stopLimit, err := parseDecimal("stopLimitPrice", args[5])
	if err != nil {
		return err
	}

	report, err := a.supervisor.PlaceOCO(ctx, execution.OcoParams{
		Symbol:          symbol,
		Side:            side,
		Quantity:        qty,
		TakeProfitPrice: takeProfit,
		StopPrice:       stopPrice,
		StopLimitPrice:  stopLimit,
	})
	if err != nil && !errors.Is(err, execution.ErrOcoRace) {
		return err
	}

	fmt.Printf("OCO 组 %s\n", report.GroupID)
	printHandle("止盈腿", report.TakeProfit)
	printHandle("止损腿", report.Stop)
	if report.Raced {
		fmt.Println("警告: 双腿均已成交(竞态窗口), 请人工核对持仓")
		return err
	}
	if report.FilledLeg != nil {
		fmt.Printf("成交腿: %s, 对腿已撤销\n", report.FilledLeg.ClientID)
	}
	return nil
}

func (a *App) runStopLimit(ctx context.Context, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("stop_limit 需要 5 个参数: <symbol> <side> <qty> <stopPrice> <limitPrice>")
	}
	symbol := strings.ToUpper(args[0])
	side, err := order.ParseSide(args[1])
	if err != nil {
		return err
	}
	qty, err := parseDecimal("qty", args[2])
	if err != nil {
		return err
	}
	stopPrice, err := parseDecimal("stopPrice", args[3])
	if err != nil {
		return err
	}
	limitPrice, err := parseDecimal("limitPrice", args[4])
	if err != nil {
		return err
	}

	h, err := a.supervisor.PlaceStopLimit(ctx, execution.StopLimitParams{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		StopPrice:  stopPrice,
		LimitPrice: limitPrice,
	})
	if err != nil {
		return err
	}
	printHandle("条件限价单", h)
	return nil
}

func (a *App) runTwap(ctx context.Context, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("twap 需要 5 个参数: <symbol> <side> <totalQty> <slices> <intervalSeconds>")
	}
	symbol := strings.ToUpper(args[0])
	side, err := order.ParseSide(args[1])
	if err != nil {
		return err
	}
	totalQty, err := parseDecimal("totalQty", args[2])
	if err != nil {
		return err
	}
	slices, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("slices 必须为整数: %w", err)
	}
	intervalSec, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("intervalSeconds 必须为整数: %w", err)
	}
	if intervalSec <= 0 {
		return fmt.Errorf("intervalSeconds 必须为正, 实际为 %d", intervalSec)
	}

	report, err := a.supervisor.RunTwap(ctx, execution.TwapParams{
		Symbol:        symbol,
		Side:          side,
		TotalQuantity: totalQty,
		SliceCount:    slices,
		Interval:      time.Duration(intervalSec) * time.Second,
	})
	if err != nil {
		return err
	}

	fmt.Printf("TWAP %s %s 计划完成: 请求 %s, 成交 %s, 切片 %d 个, 失败 %d 个\n",
		report.Symbol, report.Side,
		report.TotalRequested, report.TotalFilled,
		len(report.Slices), len(report.FailedSlices),
	)
	for _, slice := range report.Slices {
		if slice.Failed {
			fmt.Printf("  切片 #%d 数量 %s 失败: %v\n", slice.Index+1, slice.Quantity, slice.Err)
			continue
		}
		fmt.Printf("  切片 #%d 数量 %s 状态 %s 成交 %s\n",
			slice.Index+1, slice.Quantity, slice.Handle.Status(), slice.Handle.Filled())
	}
	if len(report.FailedSlices) > 0 {
		return fmt.Errorf("TWAP 计划部分失败: %d/%d 个切片未完成", len(report.FailedSlices), len(report.Slices))
	}
	return nil
}

func (a *App) runTrack(ctx context.Context, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("track 最多接受 2 个参数: [symbol] [timeframe]")
	}
	symbol := defaultTrackSymbol
	timeframe := defaultTrackTimeframe
	if len(args) >= 1 {
		symbol = strings.ToUpper(args[0])
	}
	if len(args) == 2 {
		timeframe = args[1]
	}
	if a.candles == nil {
		return fmt.Errorf("track 需要真实行情数据, 无法在 dry-run 模式下运行")
	}

	candles, err := a.candles.FetchCandles(ctx, symbol, timeframe, trackCandleLimit)
	if err != nil {
		return fmt.Errorf("获取K线失败: %w", err)
	}

	snapshot, err := indicator.NewCalculator().Compute(timeframe, candles)
	if err != nil {
		return err
	}

	a.logger.Info("指标快照已生成",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Float64("close", snapshot.Close),
		zap.Float64("rsi", snapshot.RSI),
	)

	fmt.Printf("%s %s 指标快照\n", symbol, timeframe)
	fmt.Printf("  收盘价: %.4f (前值 %.4f)\n", snapshot.Close, snapshot.PreviousClose)
	fmt.Printf("  SMA5/10/20: %.4f / %.4f / %.4f (%s)\n", snapshot.SMA5, snapshot.SMA10, snapshot.SMA20, snapshot.TrendSignal)
	fmt.Printf("  EMA12/26: %.4f / %.4f\n", snapshot.EMA12, snapshot.EMA26)
	fmt.Printf("  MACD: %.4f 信号 %.4f 柱 %.4f (%s)\n",
		snapshot.MACD.Value, snapshot.MACD.Signal, snapshot.MACD.Histogram, snapshot.MACD.Trend)
	fmt.Printf("  布林带: 上轨 %.4f 中轨 %.4f 下轨 %.4f 位置 %.2f\n",
		snapshot.Bollinger.Upper, snapshot.Bollinger.Middle, snapshot.Bollinger.Lower, snapshot.Bollinger.Position)
	fmt.Printf("  RSI14: %.2f (%s)\n", snapshot.RSI, snapshot.RSISignal)
	fmt.Printf("  成交量: %.2f 均量10 %.2f 量比 %.2f\n",
		snapshot.Volume.Current, snapshot.Volume.Average10, snapshot.Volume.Ratio)
	return nil
}

func (a *App) runValidate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("validate 需要 1 个参数: <symbol>")
	}
	symbol := strings.ToUpper(args[0])

	filters, err := a.supervisor.Filters(ctx, symbol)
	if err != nil {
		return fmt.Errorf("获取交易规则失败: %w", err)
	}
	lastPrice, err := a.supervisor.LastPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("获取最新价格失败: %w", err)
	}

	// 满足最小名义价值的最小合法数量: ceil(minNotional/price) 取整到步长。
	minQty := decimal.Zero
	if lastPrice.IsPositive() && filters.StepSize.IsPositive() {
		steps := filters.MinNotional.Div(lastPrice).Div(filters.StepSize).Ceil()
		minQty = steps.Mul(filters.StepSize)
	}

	fmt.Printf("%s 交易规则\n", symbol)
	fmt.Printf("  价格步长 (tickSize): %s\n", filters.TickSize)
	fmt.Printf("  数量步长 (stepSize): %s\n", filters.StepSize)
	fmt.Printf("  最小名义价值 (minNotional): %s\n", filters.MinNotional)
	fmt.Printf("  最新价格: %s\n", lastPrice)
	if minQty.IsPositive() {
		fmt.Printf("  按当前价格的最小合法数量: %s (名义价值约 %s)\n",
			minQty, minQty.Mul(lastPrice).Round(4))
	}
	return nil
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s 必须为数字: %w", name, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s 必须为正, 实际为 %s", name, raw)
	}
	return d, nil
}

func printHandle(label string, h *order.Handle) {
	if h == nil {
		fmt.Printf("%s: 未创建\n", label)
		return
	}
	fmt.Printf("%s %s %s: 数量 %s, 状态 %s, 成交 %s, 交易所单号 %s, 客户端单号 %s\n",
		label, h.Symbol, h.Side, h.Quantity, h.Status(), h.Filled(), h.ExchangeOrderID, h.ClientID)
}
