package orchestrator

import (
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// exits.go implements the §4.8 Step B "backup exit strategies": five
// independently-triggered rules, each carrying a fixed priority so the
// orchestrator can pick "the highest-scoring triggered one" deterministically.

// exitRule names the five backup strategies in priority order (highest first).
type exitRule int

const (
	ruleNone exitRule = iota
	ruleAIReversal
	ruleStaleness
	ruleVolatilitySpike
	ruleTechnicalReversal
	ruleProfitLadder
)

var rulePriority = map[exitRule]int{
	ruleAIReversal:        100,
	ruleStaleness:         90,
	ruleVolatilitySpike:   75,
	ruleTechnicalReversal: 60,
	ruleProfitLadder:      50,
}

const (
	aiReversalConfidence = 0.7
	stalenessAge         = 2 * time.Hour
	stalenessPnLPct      = 0.3
	volatilitySpikeRatio = 5.0
	reversalRSIHigh      = 70.0
	reversalRSILow       = 30.0
)

// profitLadderRungs are checked highest-first so a gap jump (e.g. 0% to
// 1.2%) fires the strongest uncrossed rung rather than the first one.
var profitLadderRungs = []struct {
	level      int
	thresholdPct float64
	closePct   int
}{
	{level: 100, thresholdPct: 1.0, closePct: 100},
	{level: 60, thresholdPct: 0.6, closePct: 50},
	{level: 30, thresholdPct: 0.3, closePct: 25},
}

// backupExit is the result of evaluating all five rules: which one fired
// (if any), and the partial-close percentage to apply.
type backupExit struct {
	Rule       exitRule
	ClosePct   int
	ProfitRung int // set only for ruleProfitLadder, so the caller can mark it fired
}

// evaluateBackupExits runs every rule and returns the highest-priority
// triggered one, or a zero-value backupExit if none fired.
func evaluateBackupExits(
	tracking *domain.PositionTracking,
	pos domain.PositionSnapshot,
	entryVerdict domain.EntryVerdict,
	ind domain.TechnicalIndicators,
	now time.Time,
) backupExit {
	pnlPct, _ := pos.PnLPct().Float64()

	candidates := make([]backupExit, 0, 5)

	if aiReversalTriggered(pos.Side, entryVerdict) {
		candidates = append(candidates, backupExit{Rule: ruleAIReversal, ClosePct: 100})
	}
	if now.Sub(tracking.EntryTime) > stalenessAge && pnlPct < stalenessPnLPct {
		candidates = append(candidates, backupExit{Rule: ruleStaleness, ClosePct: 100})
	}
	if ind.Volume.Ratio > volatilitySpikeRatio {
		candidates = append(candidates, backupExit{Rule: ruleVolatilitySpike, ClosePct: 50})
	}
	if technicalReversalTriggered(pos.Side, ind) {
		candidates = append(candidates, backupExit{Rule: ruleTechnicalReversal, ClosePct: 50})
	}
	if rung, ok := firstUnfiredRung(tracking, pnlPct); ok {
		candidates = append(candidates, backupExit{Rule: ruleProfitLadder, ClosePct: rung.closePct, ProfitRung: rung.level})
	}

	var best backupExit
	bestScore := -1
	for _, c := range candidates {
		if score := rulePriority[c.Rule]; score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

// aiReversalTriggered is rule (a): the freshly computed entry verdict
// disagrees with the side we are holding, at high confidence.
func aiReversalTriggered(side domain.Side, verdict domain.EntryVerdict) bool {
	if verdict.Confidence <= aiReversalConfidence {
		return false
	}
	if side == domain.SideBuy {
		return verdict.Decision == domain.EntrySell
	}
	return verdict.Decision == domain.EntryBuy
}

// technicalReversalTriggered is rule (e): a side-conditional RSI extremum
// plus an opposing MACD histogram sign.
func technicalReversalTriggered(side domain.Side, ind domain.TechnicalIndicators) bool {
	if side == domain.SideBuy {
		return ind.RSI >= reversalRSIHigh && ind.MACD.Histogram < 0
	}
	return ind.RSI <= reversalRSILow && ind.MACD.Histogram > 0
}

// firstUnfiredRung is rule (d): the highest profit-ladder rung the position
// has newly crossed that has not already fired.
func firstUnfiredRung(tracking *domain.PositionTracking, pnlPct float64) (struct {
	level        int
	thresholdPct float64
	closePct     int
}, bool) {
	for _, rung := range profitLadderRungs {
		if pnlPct >= rung.thresholdPct && !tracking.ProfitLadderFired[rung.level] {
			return rung, true
		}
	}
	return profitLadderRungs[0], false
}

// reversalSignals derives the human-readable reversal-signal strings fed
// into the position-management prompt (§4.4), conditioned on the current side.
func reversalSignals(side domain.Side, ind domain.TechnicalIndicators, kalman domain.KalmanPrediction) []string {
	var signals []string
	if side == domain.SideBuy {
		if ind.RSI >= reversalRSIHigh {
			signals = append(signals, "RSI overbought against a long position")
		}
		if ind.MACD.Histogram < 0 {
			signals = append(signals, "MACD histogram turned negative against a long position")
		}
		if kalman.Trend == domain.TrendBearish {
			signals = append(signals, "Kalman trend flipped bearish")
		}
	} else {
		if ind.RSI <= reversalRSILow {
			signals = append(signals, "RSI oversold against a short position")
		}
		if ind.MACD.Histogram > 0 {
			signals = append(signals, "MACD histogram turned positive against a short position")
		}
		if kalman.Trend == domain.TrendBullish {
			signals = append(signals, "Kalman trend flipped bullish")
		}
	}
	return signals
}
