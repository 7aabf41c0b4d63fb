// Package kalman implements the scalar local-level Kalman filter (C3) used
// to forecast short-horizon price direction from a candle window. No
// example in the retrieved corpus implements a Kalman filter, so this is
// hand-written against stdlib math only; see the project's DESIGN.md for
// the corresponding stdlib-justification entry.
package kalman

import (
	"math"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// Predictor holds the adaptive-noise local-level filter. The spec treats the
// component as functionally stateless across calls (each Predict reseeds
// from the series' first value). The unexported state keeps the last run's
// x/P/Q/R; Predict overwrites it and does not read it.
type Predictor struct {
	state domain.KalmanState
}

// New returns a predictor with default Q/R; both are recomputed from the
// series on every Predict call regardless of this seed.
func New() *Predictor {
	return &Predictor{state: domain.KalmanState{Q: 0.01, R: 0.1}}
}

// Reset clears the stored x/P and restores the default Q/R. Predict always
// reseeds from the series' first value, with or without a Reset.
func (p *Predictor) Reset() {
	p.state = domain.KalmanState{Q: 0.01, R: 0.1}
}

// SetParams overrides the stored Q and R. Predict recomputes Q and R from
// the series on every call, so these values do not affect its output.
func (p *Predictor) SetParams(q, r float64) {
	p.state.Q = q
	p.state.R = r
}

// Predict runs the filter over candles' closes and forecasts look_ahead
// steps beyond the last filtered value via an OLS trend fit on the last 5
// filtered points; the trend label uses a separate OLS fit on the last 3.
// Returns a conservative low-confidence verdict when the series is too
// short to filter meaningfully.
func (p *Predictor) Predict(candles []domain.Candle, lookAhead int) domain.KalmanPrediction {
	closes := closesOf(candles)
	if len(closes) < 10 {
		lastClose := 0.0
		if len(closes) > 0 {
			lastClose = closes[len(closes)-1]
		}
		return domain.KalmanPrediction{
			PredictedPrice: lastClose,
			Confidence:     0.1,
			Trend:          domain.TrendNeutral,
			Accuracy:       0.1,
			Timeframe:      "5m",
		}
	}

	q := clip(stddevReturns(closes)*0.1, 0.001, 0.1)
	r := clip(0.1*(1+volumeTrend(candles)), 0.01, 1.0)

	filtered := make([]float64, len(closes))
	x, pCov := closes[0], 1.0
	for i, z := range closes {
		xPred := x
		pPred := pCov + q
		k := pPred / (pPred + r)
		x = xPred + k*(z-xPred)
		pCov = (1 - k) * pPred
		filtered[i] = x
	}
	p.state = domain.KalmanState{X: x, P: pCov, Q: q, R: r}

	forecastSlope := olsSlope(lastN(filtered, 5))
	forecast := filtered[len(filtered)-1] + forecastSlope*float64(lookAhead)

	mn, mx := minMax(closes)
	confidence := 1.0
	if mx > mn {
		confidence = clip(1-math.Sqrt(mse(closes, filtered))/(mx-mn), 0, 1)
	}

	trendSlope := olsSlope(lastN(filtered, 3))
	trend := domain.TrendNeutral
	switch {
	case trendSlope > 1e-3:
		trend = domain.TrendBullish
	case trendSlope < -1e-3:
		trend = domain.TrendBearish
	}

	accuracy := directionalAccuracy(closes, filtered)

	return domain.KalmanPrediction{
		PredictedPrice: forecast,
		Confidence:     confidence,
		Trend:          trend,
		Accuracy:       accuracy,
		Timeframe:      "5m",
	}
}

func closesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}

func stddevReturns(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

// volumeTrend is (mean(last 5 volumes) - mean(all volumes)) / mean(all volumes).
func volumeTrend(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		v, _ := c.Volume.Float64()
		volumes[i] = v
	}
	overall := meanOf(volumes)
	if overall == 0 {
		return 0
	}
	tail := lastN(volumes, 5)
	return (meanOf(tail) - overall) / overall
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func lastN(xs []float64, n int) []float64 {
	if n > len(xs) {
		n = len(xs)
	}
	return xs[len(xs)-n:]
}

// olsSlope fits y = a + b*x over the given points, x = 0..len-1.
func olsSlope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := float64(n)*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (float64(n)*sumXY - sumX*sumY) / denom
}

func minMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mn, mx := xs[0], xs[0]
	for _, x := range xs {
		if x < mn {
			mn = x
		}
		if x > mx {
			mx = x
		}
	}
	return mn, mx
}

func mse(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var total float64
	for i := range a {
		d := a[i] - b[i]
		total += d * d
	}
	return total / float64(n)
}

// directionalAccuracy is the fraction of adjacent pairs whose sign of
// filtered-delta matches the sign of input-delta.
func directionalAccuracy(input, filtered []float64) float64 {
	if len(input) < 2 {
		return 0.1
	}
	matches, total := 0, 0
	for i := 1; i < len(input); i++ {
		inputDelta := input[i] - input[i-1]
		filteredDelta := filtered[i] - filtered[i-1]
		if inputDelta == 0 || filteredDelta == 0 {
			continue
		}
		total++
		if math.Signbit(inputDelta) == math.Signbit(filteredDelta) {
			matches++
		}
	}
	if total == 0 {
		return 0.1
	}
	return float64(matches) / float64(total)
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
