package orchestrator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func TestTrailingStopCandidate_InactiveBelowActivationThreshold(t *testing.T) {
	tracking := domain.NewPositionTracking("BTCUSDT", domain.SideBuy, decimal.NewFromInt(50000), decimal.NewFromInt(49700), time.Now(), "t1")

	_, ok := trailingStopCandidate(tracking, 0.3)

	assert.False(t, ok)
	assert.False(t, tracking.TrailingActive)
}

func TestTrailingStopCandidate_ScenarioThreeActivatesAndMovesSL(t *testing.T) {
	tracking := domain.NewPositionTracking("BTCUSDT", domain.SideBuy, decimal.NewFromInt(50000), decimal.NewFromInt(49700), time.Now(), "t1")
	tracking.MaxPriceSeen = decimal.NewFromInt(50600)

	candidate, ok := trailingStopCandidate(tracking, 1.2)

	assert.True(t, ok)
	assert.True(t, tracking.TrailingActive)
	// candidate = 50600*(1-0.003) = 50448.2; guard = 50000*0.98 = 49000.
	assert.True(t, candidate.Equal(decimal.NewFromFloat(50448.2)), "got %s", candidate.String())
}

func TestTrailingStopCandidate_DoesNotRegressBelowCurrentStopLoss(t *testing.T) {
	tracking := domain.NewPositionTracking("BTCUSDT", domain.SideBuy, decimal.NewFromInt(50000), decimal.NewFromFloat(50448.2), time.Now(), "t1")
	tracking.TrailingActive = true
	tracking.MaxPriceSeen = decimal.NewFromInt(50500)

	_, ok := trailingStopCandidate(tracking, 1.0)

	assert.False(t, ok)
}

func TestTrailingStopCandidate_ShortSideMirrorsLong(t *testing.T) {
	tracking := domain.NewPositionTracking("BTCUSDT", domain.SideSell, decimal.NewFromInt(50000), decimal.NewFromInt(50300), time.Now(), "t1")
	tracking.MinPriceSeen = decimal.NewFromInt(49400)

	candidate, ok := trailingStopCandidate(tracking, 1.2)

	assert.True(t, ok)
	// candidate = 49400*(1+0.003) = 49548.2; guard = 50000*1.02 = 51000.
	assert.True(t, candidate.Equal(decimal.NewFromFloat(49548.2)), "got %s", candidate.String())
}

func TestTrailingStopCandidate_GuardSuppressesCandidateNotYetClearingIt(t *testing.T) {
	// Open question, implemented literally: a candidate that has not yet
	// cleared the entry*0.98 guard is suppressed even though it would
	// otherwise improve on the current stop.
	tracking := domain.NewPositionTracking("BTCUSDT", domain.SideBuy, decimal.NewFromInt(50000), decimal.NewFromInt(48000), time.Now(), "t1")
	tracking.TrailingActive = true
	tracking.MaxPriceSeen = decimal.NewFromInt(49100)

	_, ok := trailingStopCandidate(tracking, 1.0)

	assert.False(t, ok)
}
