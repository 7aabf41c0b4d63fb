package orchestrator

import (
	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// sizing.go implements §4.8 step C's leverage/quantity/SL/TP arithmetic as
// pure functions so the scalping-profile formulas can be tested in
// isolation from network I/O.

const (
	baseLeverage = 5

	// AI-confidence-band bonus: at high confidence the full suggested
	// leverage is folded in, at medium confidence only half of it.
	aiHighConfidence   = 0.8
	aiMediumConfidence = 0.6

	kalmanHighConfidence   = 0.8
	kalmanMediumConfidence = 0.6
	kalmanHighBonus        = 5
	kalmanMediumBonus      = 2

	rsiExtremeBonus   = 3
	rsiModerateBonus  = 1
	rsiExtremeLow     = 20
	rsiExtremeHigh    = 80
	rsiModerateLow    = 30
	rsiModerateHigh   = 70

	macdMagnitudeThreshold = 50.0
	macdMagnitudeBonus     = 2

	volumeRatioHigh     = 2.0
	volumeRatioElevated = 1.5
	volumeHighBonus     = 2
	volumeElevatedBonus = 1

	riskPctCap      = 10.0
	riskPctDivisor  = 3.0
	stopLossPct     = 0.006 // 0.6%, sign by side
	takeProfitBase  = 1.5
	takeProfitSlope = 0.5
)

// ComputeLeverage implements the scalping-profile leverage formula: a base
// of 5 plus bonuses for AI confidence, Kalman confidence, RSI extremes,
// MACD magnitude, and elevated volume, clipped to cap.
func ComputeLeverage(entry domain.EntryVerdict, kalman domain.KalmanPrediction, ind domain.TechnicalIndicators, cap int) int {
	leverage := baseLeverage

	switch {
	case entry.Confidence >= aiHighConfidence:
		leverage += entry.SuggestedLeverage
	case entry.Confidence >= aiMediumConfidence:
		leverage += entry.SuggestedLeverage / 2
	}

	switch {
	case kalman.Confidence >= kalmanHighConfidence:
		leverage += kalmanHighBonus
	case kalman.Confidence >= kalmanMediumConfidence:
		leverage += kalmanMediumBonus
	}

	switch {
	case ind.RSI <= rsiExtremeLow || ind.RSI >= rsiExtremeHigh:
		leverage += rsiExtremeBonus
	case ind.RSI <= rsiModerateLow || ind.RSI >= rsiModerateHigh:
		leverage += rsiModerateBonus
	}

	if abs(ind.MACD.Histogram) > macdMagnitudeThreshold {
		leverage += macdMagnitudeBonus
	}

	switch {
	case ind.Volume.Ratio > volumeRatioHigh:
		leverage += volumeHighBonus
	case ind.Volume.Ratio > volumeRatioElevated:
		leverage += volumeElevatedBonus
	}

	if leverage > cap {
		leverage = cap
	}
	if leverage < 1 {
		leverage = 1
	}
	return leverage
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// ComputeQuantity implements `risk_pct = min(10, leverage/3); capital_at_risk
// = available*risk_pct/100; notional = capital_at_risk*leverage; qty =
// floor(notional/price/step_size)*step_size`, raised to minQty if below.
func ComputeQuantity(leverage int, available, price, stepSize, minQty decimal.Decimal) decimal.Decimal {
	riskPct := decimal.NewFromInt(int64(leverage)).Div(decimal.NewFromFloat(riskPctDivisor))
	cap := decimal.NewFromFloat(riskPctCap)
	if riskPct.GreaterThan(cap) {
		riskPct = cap
	}

	capitalAtRisk := available.Mul(riskPct).Div(decimal.NewFromInt(100))
	notional := capitalAtRisk.Mul(decimal.NewFromInt(int64(leverage)))

	if price.IsZero() || stepSize.IsZero() {
		return decimal.Zero
	}

	steps := notional.Div(price).Div(stepSize).Floor()
	qty := steps.Mul(stepSize)

	if qty.LessThan(minQty) {
		qty = minQty
	}
	return qty
}

// ComputeStopLossTakeProfit implements `SL = entry +/- 0.6%` (sign by side)
// and `TP = entry +/- |entry-SL|*(1.5+0.5*confidence)`.
func ComputeStopLossTakeProfit(side domain.Side, entry decimal.Decimal, confidence float64) (sl, tp decimal.Decimal) {
	dist := entry.Mul(decimal.NewFromFloat(stopLossPct))
	tpMultiplier := decimal.NewFromFloat(takeProfitBase + takeProfitSlope*confidence)

	if side == domain.SideBuy {
		sl = entry.Sub(dist)
		tp = entry.Add(dist.Mul(tpMultiplier))
		return sl, tp
	}
	sl = entry.Add(dist)
	tp = entry.Sub(dist.Mul(tpMultiplier))
	return sl, tp
}
