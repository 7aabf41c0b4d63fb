package orchestrator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func newTracking(side domain.Side, entryAgo time.Duration) *domain.PositionTracking {
	now := time.Now()
	tr := domain.NewPositionTracking("BTCUSDT", side, decimal.NewFromInt(50000), decimal.NewFromInt(49700), now.Add(-entryAgo), "trade-1")
	return tr
}

func basePosition(side domain.Side, pnlPct float64) domain.PositionSnapshot {
	entry := decimal.NewFromInt(50000)
	size := decimal.NewFromFloat(0.2)
	unrealised := entry.Mul(size).Mul(decimal.NewFromFloat(pnlPct)).Div(decimal.NewFromInt(100))
	return domain.PositionSnapshot{
		Symbol: "BTCUSDT", Side: side, Size: size, EntryPrice: entry,
		CurrentPrice: entry, UnrealisedPnL: unrealised, Leverage: 20, Timestamp: time.Now(),
	}
}

func TestEvaluateBackupExits_AIReversalWinsOverProfitLadder(t *testing.T) {
	tracking := newTracking(domain.SideBuy, time.Hour)
	pos := basePosition(domain.SideBuy, 1.5)
	entryVerdict := domain.EntryVerdict{Decision: domain.EntrySell, Confidence: 0.9}
	ind := domain.TechnicalIndicators{}

	result := evaluateBackupExits(tracking, pos, entryVerdict, ind, time.Now())

	assert.Equal(t, ruleAIReversal, result.Rule)
	assert.Equal(t, 100, result.ClosePct)
}

func TestEvaluateBackupExits_ProfitLadderFiresHighestUncrossedRung(t *testing.T) {
	tracking := newTracking(domain.SideBuy, time.Hour)
	pos := basePosition(domain.SideBuy, 1.2)
	entryVerdict := domain.EntryVerdict{Decision: domain.EntryHold}
	ind := domain.TechnicalIndicators{RSI: 50, Volume: domain.VolumeStats{Ratio: 1.0}}

	result := evaluateBackupExits(tracking, pos, entryVerdict, ind, time.Now())

	assert.Equal(t, ruleProfitLadder, result.Rule)
	assert.Equal(t, 100, result.ClosePct)
	assert.Equal(t, 100, result.ProfitRung)
}

func TestEvaluateBackupExits_AlreadyFiredRungIsSkipped(t *testing.T) {
	tracking := newTracking(domain.SideBuy, time.Hour)
	tracking.ProfitLadderFired[100] = true
	pos := basePosition(domain.SideBuy, 1.2)
	entryVerdict := domain.EntryVerdict{Decision: domain.EntryHold}
	ind := domain.TechnicalIndicators{RSI: 50, Volume: domain.VolumeStats{Ratio: 1.0}}

	result := evaluateBackupExits(tracking, pos, entryVerdict, ind, time.Now())

	assert.Equal(t, ruleProfitLadder, result.Rule)
	assert.Equal(t, 60, result.ProfitRung)
}

func TestEvaluateBackupExits_StalenessFiresOnSlowLosersOverTwoHours(t *testing.T) {
	tracking := newTracking(domain.SideBuy, 3*time.Hour)
	pos := basePosition(domain.SideBuy, 0.1)
	entryVerdict := domain.EntryVerdict{Decision: domain.EntryHold}
	ind := domain.TechnicalIndicators{RSI: 50}

	result := evaluateBackupExits(tracking, pos, entryVerdict, ind, time.Now())

	assert.Equal(t, ruleStaleness, result.Rule)
}

func TestEvaluateBackupExits_NoneTriggeredReturnsZeroValue(t *testing.T) {
	tracking := newTracking(domain.SideBuy, time.Minute)
	pos := basePosition(domain.SideBuy, 0.05)
	entryVerdict := domain.EntryVerdict{Decision: domain.EntryHold}
	ind := domain.TechnicalIndicators{RSI: 50}

	result := evaluateBackupExits(tracking, pos, entryVerdict, ind, time.Now())

	assert.Equal(t, ruleNone, result.Rule)
}

func TestTechnicalReversalTriggered_LongVsShort(t *testing.T) {
	overboughtBearish := domain.TechnicalIndicators{RSI: 75, MACD: domain.MACD{Histogram: -1}}
	assert.True(t, technicalReversalTriggered(domain.SideBuy, overboughtBearish))
	assert.False(t, technicalReversalTriggered(domain.SideSell, overboughtBearish))

	oversoldBullish := domain.TechnicalIndicators{RSI: 25, MACD: domain.MACD{Histogram: 1}}
	assert.True(t, technicalReversalTriggered(domain.SideSell, oversoldBullish))
	assert.False(t, technicalReversalTriggered(domain.SideBuy, oversoldBullish))
}

func TestReversalSignals_FlagsEachIndependentSignal(t *testing.T) {
	ind := domain.TechnicalIndicators{RSI: 75, MACD: domain.MACD{Histogram: -5}}
	kalman := domain.KalmanPrediction{Trend: domain.TrendBearish}

	signals := reversalSignals(domain.SideBuy, ind, kalman)

	assert.Len(t, signals, 3)
}
