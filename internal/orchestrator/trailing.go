package orchestrator

import (
	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// trailing.go implements the §4.8 trailing-stop rule, including the coarse
// entry_price*0.98 guard documented as an open question in SPEC_FULL.md §9:
// the donor's own trailing-stop update compares the candidate SL against
// this guard before deciding whether to push the SL up (LONG) or down
// (SHORT), which can in principle suppress the very first favourable move
// if the candidate hasn't cleared the guard yet. Implemented literally, not
// "fixed", as recorded in SPEC_FULL.md §9.

const (
	trailingActivationPnLPct = 0.5
	trailingDistancePct      = 0.003
	trailingGuardPct         = 0.02
)

// trailingStopCandidate computes the next SL to apply, if any, given the
// tracking record's running max/min and the configured entry-based SL.
// It returns ok=false when no update should be sent to the venue this tick.
func trailingStopCandidate(tracking *domain.PositionTracking, pnlPct float64) (decimal.Decimal, bool) {
	if pnlPct >= trailingActivationPnLPct {
		tracking.TrailingActive = true
	}
	if !tracking.TrailingActive {
		return decimal.Zero, false
	}

	distance := decimal.NewFromFloat(trailingDistancePct)
	guardFactor := decimal.NewFromFloat(trailingGuardPct)

	if tracking.Side == domain.SideBuy {
		candidate := tracking.MaxPriceSeen.Mul(decimal.NewFromInt(1).Sub(distance))
		guard := tracking.EntryPrice.Mul(decimal.NewFromInt(1).Sub(guardFactor))
		if candidate.GreaterThan(guard) && candidate.GreaterThan(tracking.CurrentStopLoss) {
			return candidate, true
		}
		return decimal.Zero, false
	}

	candidate := tracking.MinPriceSeen.Mul(decimal.NewFromInt(1).Add(distance))
	guard := tracking.EntryPrice.Mul(decimal.NewFromInt(1).Add(guardFactor))
	if candidate.LessThan(guard) && candidate.LessThan(tracking.CurrentStopLoss) {
		return candidate, true
	}
	return decimal.Zero, false
}
