package indicator

import (
	"math"
	"testing"
	"time"

	"order-exec/internal/exchange"
)

func syntheticCandles(n int, base float64) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := base + float64(i)
		candles[i] = exchange.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    100,
		}
	}
	return candles
}

func TestValueHelpers(t *testing.T) {
	if !math.IsNaN(last(nil)) {
		t.Errorf("last of empty slice should be NaN")
	}
	if !math.IsNaN(prev([]float64{1})) {
		t.Errorf("prev of single-element slice should be NaN")
	}
	if got := last([]float64{1, 2, 3}); got != 3 {
		t.Errorf("last = %v, want 3", got)
	}
	if got := prev([]float64{1, 2, 3}); got != 2 {
		t.Errorf("prev = %v, want 2", got)
	}

	if got := tailMean([]float64{1, 2, 3, 4, 5}, 2); got != 4.5 {
		t.Errorf("tailMean of last 2 = %v, want 4.5", got)
	}
	if got := tailMean([]float64{2, 4}, 5); got != 3 {
		t.Errorf("tailMean beyond length = %v, want 3", got)
	}
	if got := tailMean(nil, 3); got != 0 {
		t.Errorf("tailMean of empty slice = %v, want 0", got)
	}

	if got := safeRatio(10, 0); got != 0 {
		t.Errorf("safeRatio by zero = %v, want 0", got)
	}
	if got := safeRatio(10, 4); got != 2.5 {
		t.Errorf("safeRatio = %v, want 2.5", got)
	}
}

func TestComputeRequiresEnoughCandles(t *testing.T) {
	calc := NewCalculator()
	if _, err := calc.Compute("1h", syntheticCandles(10, 100)); err == nil {
		t.Errorf("expected error for short candle series")
	}
}

func TestComputeUptrendSnapshot(t *testing.T) {
	calc := NewCalculator()

	// 单调上涨序列: 短均线高于长均线, 量比恒为 1。
	snapshot, err := calc.Compute("1h", syntheticCandles(60, 100))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if snapshot.Close != 159 {
		t.Errorf("expected close 159, got %v", snapshot.Close)
	}
	if snapshot.PreviousClose != 158 {
		t.Errorf("expected previous close 158, got %v", snapshot.PreviousClose)
	}
	if !(snapshot.SMA5 > snapshot.SMA10 && snapshot.SMA10 > snapshot.SMA20) {
		t.Errorf("uptrend series must order SMAs: %v / %v / %v",
			snapshot.SMA5, snapshot.SMA10, snapshot.SMA20)
	}
	if snapshot.TrendSignal != "上升趋势" {
		t.Errorf("unexpected trend signal %q", snapshot.TrendSignal)
	}
	if math.Abs(snapshot.Volume.Ratio-1) > 1e-9 {
		t.Errorf("constant volume should give ratio 1, got %v", snapshot.Volume.Ratio)
	}
	if snapshot.RSI < 50 {
		t.Errorf("rising series should not read oversold, RSI=%v", snapshot.RSI)
	}
}

func TestComputeCachesByTimeframeAndWindow(t *testing.T) {
	calc := NewCalculator()
	candles := syntheticCandles(60, 100)

	first, err := calc.Compute("1h", candles)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	second, err := calc.Compute("1h", candles)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if first.Close != second.Close || first.SMA20 != second.SMA20 {
		t.Errorf("cached snapshot diverged")
	}
}
