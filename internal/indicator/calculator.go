package indicator

import (
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"order-exec/internal/exchange"
)

// minCandles 为计算全部指标(最长窗口 EMA26 + MACD 信号线)所需的最少K线数。
const minCandles = 30

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value     float64
	Signal    float64
	Histogram float64
	Trend     string
}

// BollingerResult 保存布林带数据。
type BollingerResult struct {
	Upper    float64
	Middle   float64
	Lower    float64
	Position float64
}

// VolumeResult 保存成交量相关统计。
type VolumeResult struct {
	Current   float64
	Average10 float64
	Ratio     float64
}

// Snapshot 为一次指标计算的汇总。
type Snapshot struct {
	Timeframe     string
	SMA5          float64
	SMA10         float64
	SMA20         float64
	EMA12         float64
	EMA26         float64
	MACD          MACDResult
	Bollinger     BollingerResult
	RSI           float64
	RSISignal     string
	Volume        VolumeResult
	Close         float64
	PreviousClose float64
	TrendSignal   string
}

type cacheEntry struct {
	key      string
	snapshot Snapshot
}

// Calculator 提供技术指标计算并带有简单缓存。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算常用技术指标。同一周期、同一K线窗口的重复
// 调用直接命中缓存。
func (c *Calculator) Compute(timeframe string, candles []exchange.Candle) (Snapshot, error) {
	if len(candles) < minCandles {
		return Snapshot{}, fmt.Errorf("计算指标失败: K线数量不足, 至少需要%d根, 当前%d根", minCandles, len(candles))
	}

	latest := candles[len(candles)-1]
	cacheKey := fmt.Sprintf("%s:%d:%d", timeframe, len(candles), latest.Timestamp.Unix())

	c.mu.Lock()
	if entry, ok := c.cache[timeframe]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.snapshot, nil
	}
	c.mu.Unlock()

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, candle := range candles {
		closes[i] = candle.Close
		volumes[i] = candle.Volume
	}

	snapshot := c.calculate(timeframe, closes, volumes)

	c.mu.Lock()
	c.cache[timeframe] = cacheEntry{key: cacheKey, snapshot: snapshot}
	c.mu.Unlock()

	return snapshot, nil
}

func (c *Calculator) calculate(timeframe string, closes, volumes []float64) Snapshot {
	sma5 := talib.Sma(closes, 5)
	sma10 := talib.Sma(closes, 10)
	sma20 := talib.Sma(closes, 20)

	ema12 := talib.Ema(closes, 12)
	ema26 := talib.Ema(closes, 26)

	macd, macdSignal, macdHist := talib.Macd(closes, 12, 26, 9)

	bbUpper, bbMiddle, bbLower := talib.BBands(closes, 20, 2, 2, talib.SMA)

	rsi := talib.Rsi(closes, 14)

	volumeCurrent := last(volumes)
	volumeAvg10 := tailMean(volumes, 10)
	lastClose := last(closes)

	snapshot := Snapshot{
		Timeframe:     timeframe,
		SMA5:          last(sma5),
		SMA10:         last(sma10),
		SMA20:         last(sma20),
		EMA12:         last(ema12),
		EMA26:         last(ema26),
		MACD:          buildMACD(macd, macdSignal, macdHist),
		Bollinger:     buildBollinger(lastClose, bbUpper, bbMiddle, bbLower),
		RSI:           last(rsi),
		Volume:        VolumeResult{Current: volumeCurrent, Average10: volumeAvg10, Ratio: safeRatio(volumeCurrent, volumeAvg10)},
		Close:         lastClose,
		PreviousClose: prev(closes),
	}
	snapshot.RSISignal = rsiSignal(snapshot.RSI)
	snapshot.TrendSignal = trendSignal(snapshot)

	return snapshot
}

func buildMACD(macd, signal, hist []float64) MACDResult {
	result := MACDResult{
		Value:     last(macd),
		Signal:    last(signal),
		Histogram: last(hist),
	}
	switch {
	case result.Histogram > 0:
		result.Trend = "多头"
	case result.Histogram < 0:
		result.Trend = "空头"
	default:
		result.Trend = "中性"
	}
	return result
}

func buildBollinger(lastClose float64, upper, middle, lower []float64) BollingerResult {
	u := last(upper)
	m := last(middle)
	l := last(lower)

	position := 0.0
	if width := u - l; width > 0 {
		position = (lastClose - l) / width
	}

	// 将位置限制在[0,1]区间，便于后续使用。
	position = math.Max(0, math.Min(1, position))

	return BollingerResult{
		Upper:    u,
		Middle:   m,
		Lower:    l,
		Position: position,
	}
}

func rsiSignal(rsi float64) string {
	switch {
	case rsi >= 70:
		return "超买"
	case rsi <= 30:
		return "超卖"
	default:
		return "中性"
	}
}

func trendSignal(s Snapshot) string {
	switch {
	case s.SMA5 > s.SMA10 && s.SMA10 > s.SMA20:
		return "上升趋势"
	case s.SMA5 < s.SMA10 && s.SMA10 < s.SMA20:
		return "下降趋势"
	default:
		return "震荡"
	}
}

// last 取序列末值, 空序列返回 NaN。
func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// prev 取序列倒数第二个值, 长度不足时返回 NaN。
func prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}

// tailMean 取末尾 n 个值的均值, 不足 n 时取全部。
func tailMean(values []float64, n int) float64 {
	if len(values) == 0 || n <= 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// safeRatio 除数为零时返回 0。
func safeRatio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
