// Package indicators implements the pure technical-analysis functions (C2):
// RSI, MACD, Bollinger bands, an EMA ladder, volume stats, support/resistance,
// annualised volatility, short-window candle patterns and order-book
// pressure. Every function returns a fixed-shape record even on short
// input, using neutral sentinel values instead of erroring.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// closesOf extracts closing prices as float64, the working precision for
// indicator math (money sizing elsewhere stays in shopspring/decimal).
func closesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}

// RSI computes the standard gain/loss-averaged relative strength index.
// Returns neutral 50 when there isn't enough history; 100 when losses
// average to zero.
func RSI(candles []domain.Candle, period int) float64 {
	closes := closesOf(candles)
	if len(closes) < period+1 {
		return 50
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
	if len(out) == 0 {
		return 50
	}
	last := out[len(out)-1]
	if math.IsNaN(last) {
		return 100
	}
	return last
}

// EMA runs a standard exponential-moving-average recursion seeded at the
// first sample, returning only the final value.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		period = len(closes)
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))
	if len(out) == 0 {
		return closes[len(closes)-1]
	}
	return out[len(out)-1]
}

// MACD is EMA(12) minus EMA(26) on closes; the signal line is approximated
// as 0.9 times the MACD line, an intentional simplification in place of a
// true 9-period EMA-of-MACD signal.
func MACD(candles []domain.Candle) domain.MACD {
	closes := closesOf(candles)
	if len(closes) < 26 {
		return domain.MACD{}
	}

	line := EMA(closes, 12) - EMA(closes, 26)
	signal := 0.9 * line
	return domain.MACD{Line: line, Signal: signal, Histogram: line - signal}
}

// Bollinger computes SMA +/- k*stddev over the last `period` closes.
func Bollinger(candles []domain.Candle, period int, k float64) domain.Bollinger {
	closes := closesOf(candles)
	if len(closes) < period {
		period = len(closes)
	}
	if period == 0 {
		return domain.Bollinger{}
	}
	window := closes[len(closes)-period:]

	mean := sum(window) / float64(len(window))
	sigma := stddev(window, mean)
	return domain.Bollinger{
		Upper:  mean + k*sigma,
		Middle: mean,
		Lower:  mean - k*sigma,
	}
}

// EMALadder reports EMA(9), EMA(21), EMA(50) over the closes.
func EMALadder(candles []domain.Candle) domain.EMALadder {
	closes := closesOf(candles)
	if len(closes) == 0 {
		return domain.EMALadder{}
	}
	return domain.EMALadder{
		E9:  EMA(closes, 9),
		E21: EMA(closes, 21),
		E50: EMA(closes, 50),
	}
}

// Volume reports the window average, the latest volume, and their ratio.
func Volume(candles []domain.Candle) domain.VolumeStats {
	if len(candles) == 0 {
		return domain.VolumeStats{}
	}
	var total float64
	for _, c := range candles {
		v, _ := c.Volume.Float64()
		total += v
	}
	avg := total / float64(len(candles))
	last, _ := candles[len(candles)-1].Volume.Float64()

	ratio := 0.0
	if avg > 0 {
		ratio = last / avg
	}
	return domain.VolumeStats{Average: avg, Current: last, Ratio: ratio}
}

// SupportResistance finds local extrema with a +/-w window scan; strength is
// proportional to the number of extrema found, capped at 1.
func SupportResistance(candles []domain.Candle, w int) domain.SupportResistance {
	closes := closesOf(candles)
	n := len(closes)
	if n < 2*w+1 {
		return domain.SupportResistance{}
	}

	var support, resistance float64
	var foundSupport, foundResistance bool
	var extrema int

	for i := w; i < n-w; i++ {
		isMin, isMax := true, true
		for j := i - w; j <= i+w; j++ {
			if j == i {
				continue
			}
			if closes[j] < closes[i] {
				isMin = false
			}
			if closes[j] > closes[i] {
				isMax = false
			}
		}
		if isMin {
			support = closes[i]
			foundSupport = true
			extrema++
		}
		if isMax {
			resistance = closes[i]
			foundResistance = true
			extrema++
		}
	}

	if !foundSupport {
		support = closes[0]
	}
	if !foundResistance {
		resistance = closes[n-1]
	}

	strength := float64(extrema) / 10
	if strength > 1 {
		strength = 1
	}
	return domain.SupportResistance{Support: support, Resistance: resistance, Strength: strength}
}

// Volatility is the annualised standard deviation of simple returns over the
// last `period` closes, scaled by sqrt(periods-per-year at 5-minute candles).
func Volatility(candles []domain.Candle, period int) float64 {
	closes := closesOf(candles)
	if len(closes) < period+1 {
		period = len(closes) - 1
	}
	if period < 1 {
		return 0
	}
	window := closes[len(closes)-period-1:]

	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	mean := sum(returns) / float64(len(returns))
	const periodsPerYearAt5Min = 365.25 * 24 * 12
	return math.Sqrt(variance(returns, mean)) * math.Sqrt(periodsPerYearAt5Min)
}

// CandlePattern computes the short-window pattern helpers exposed to the
// tools surface: consecutive-body soldiers, momentum weakening, volume
// spikes, and doji detection.
func CandlePattern(candles []domain.Candle) domain.CandlePattern {
	n := len(candles)
	if n < 3 {
		return domain.CandlePattern{}
	}

	last3 := candles[n-3:]
	green, red := 0, 0
	bodies := make([]float64, 3)
	for i, c := range last3 {
		open, _ := c.Open.Float64()
		close, _ := c.Close.Float64()

		body := close - open
		bodies[i] = math.Abs(body)
		if body > 0 {
			green++
		} else if body < 0 {
			red++
		}
	}

	lastOpen, _ := candles[n-1].Open.Float64()
	lastClose, _ := candles[n-1].Close.Float64()
	lastHigh, _ := candles[n-1].High.Float64()
	lastLow, _ := candles[n-1].Low.Float64()
	lastRange := lastHigh - lastLow
	doji := lastRange > 0 && math.Abs(lastClose-lastOpen)/lastRange < 0.1

	momentumWeakening := bodies[0] > bodies[1] && bodies[1] > bodies[2]

	vol := Volume(candles)
	volumeSpike := vol.Average > 0 && vol.Current > 3*vol.Average

	return domain.CandlePattern{
		ThreeGreenSoldiers: green == 3,
		ThreeRedSoldiers:   red == 3,
		MomentumWeakening:  momentumWeakening,
		VolumeSpike:        volumeSpike,
		Doji:               doji,
	}
}

// OrderBookPressure summarises spread, bid/ask imbalance, and wall detection.
func OrderBookPressure(book domain.OrderBook) domain.OrderBookPressure {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.OrderBookPressure{Pressure: "NEUTRAL"}
	}

	bestBid, _ := book.Bids[0].Price.Float64()
	bestAsk, _ := book.Asks[0].Price.Float64()
	spread := bestAsk - bestBid
	spreadPct := 0.0
	if bestBid > 0 {
		spreadPct = spread / bestBid * 100
	}

	totalBidQty := levelQtySum(book.Bids)
	totalAskQty := levelQtySum(book.Asks)
	imbalance := 1.0
	if totalAskQty > 0 {
		imbalance = totalBidQty / totalAskQty
	}

	walls := countWalls(book.Bids) + countWalls(book.Asks)

	pressure := "NEUTRAL"
	switch {
	case imbalance > 1.5:
		pressure = "BULLISH"
	case imbalance < 0.67:
		pressure = "BEARISH"
	}

	return domain.OrderBookPressure{
		Spread:    spread,
		SpreadPct: spreadPct,
		Imbalance: imbalance,
		Walls:     walls,
		Pressure:  pressure,
	}
}

func levelQtySum(levels []domain.OrderBookLevel) float64 {
	var total float64
	for _, l := range levels {
		q, _ := l.Qty.Float64()
		total += q
	}
	return total
}

func countWalls(levels []domain.OrderBookLevel) int {
	if len(levels) == 0 {
		return 0
	}
	avg := levelQtySum(levels) / float64(len(levels))
	if avg == 0 {
		return 0
	}
	walls := 0
	for _, l := range levels {
		q, _ := l.Qty.Float64()
		if q > 3*avg {
			walls++
		}
	}
	return walls
}

// MultiTimeframeTrend compares a macro trend (last 20 coarse candles) against
// a micro trend (last 10 fine candles), flagging divergence and suggesting
// an action when the two disagree.
func MultiTimeframeTrend(macro, micro []domain.Candle) domain.MultiTimeframeTrend {
	macroTrend := trendLabel(macro, 20, 0.002)
	microTrend := trendLabel(micro, 10, 0.001)

	divergence := (macroTrend == domain.TrendBullish && microTrend == domain.TrendBearish) ||
		(macroTrend == domain.TrendBearish && microTrend == domain.TrendBullish)

	suggested := "HOLD"
	switch {
	case macroTrend == domain.TrendBullish && microTrend == domain.TrendBullish:
		suggested = "FOLLOW_TREND_BUY"
	case macroTrend == domain.TrendBearish && microTrend == domain.TrendBearish:
		suggested = "FOLLOW_TREND_SELL"
	case divergence:
		suggested = "WAIT_FOR_ALIGNMENT"
	}

	return domain.MultiTimeframeTrend{
		Macro:           macroTrend,
		Micro:           microTrend,
		Divergence:      divergence,
		SuggestedAction: suggested,
	}
}

func trendLabel(candles []domain.Candle, lookback int, threshold float64) domain.TrendLabel {
	if len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	if len(candles) < 2 {
		return domain.TrendNeutral
	}
	first, _ := candles[0].Close.Float64()
	last, _ := candles[len(candles)-1].Close.Float64()
	if first == 0 {
		return domain.TrendNeutral
	}
	change := (last - first) / first
	switch {
	case change > threshold:
		return domain.TrendBullish
	case change < -threshold:
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func variance(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var total float64
	for _, x := range xs {
		d := x - mean
		total += d * d
	}
	return total / float64(len(xs))
}

func stddev(xs []float64, mean float64) float64 {
	return math.Sqrt(variance(xs, mean))
}

// All computes the full TechnicalIndicators bundle for a single candle window.
func All(candles []domain.Candle) domain.TechnicalIndicators {
	return domain.TechnicalIndicators{
		RSI:       RSI(candles, 14),
		MACD:      MACD(candles),
		Bollinger: Bollinger(candles, 20, 2),
		EMA:       EMALadder(candles),
		Volume:    Volume(candles),
	}
}
