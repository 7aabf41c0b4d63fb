package orchestrator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func TestComputeLeverage_HighConfidenceAllSignalsStackToCap(t *testing.T) {
	entry := domain.EntryVerdict{Confidence: 0.85, SuggestedLeverage: 15}
	kalman := domain.KalmanPrediction{Confidence: 0.9}
	ind := domain.TechnicalIndicators{
		RSI:    18,
		MACD:   domain.MACD{Histogram: 60},
		Volume: domain.VolumeStats{Ratio: 2.5},
	}

	leverage := ComputeLeverage(entry, kalman, ind, 20)

	// base 5 + suggested 15 + kalman 5 + rsi 3 + macd 2 + volume 2 = 32, clipped to 20.
	assert.Equal(t, 20, leverage)
}

func TestComputeLeverage_ScenarioOneMatchesNominalValue(t *testing.T) {
	entry := domain.EntryVerdict{Confidence: 0.85, SuggestedLeverage: 15}
	kalman := domain.KalmanPrediction{Confidence: 0.82}
	ind := domain.TechnicalIndicators{
		RSI:    25,
		MACD:   domain.MACD{Histogram: 10},
		Volume: domain.VolumeStats{Ratio: 1.2},
	}

	leverage := ComputeLeverage(entry, kalman, ind, 20)

	// base 5 + suggested 15 + kalman 5 + rsi moderate 1 = 26, clipped to cap 20.
	assert.Equal(t, 20, leverage)
}

func TestComputeLeverage_NoSignalsStaysAtBase(t *testing.T) {
	entry := domain.EntryVerdict{Confidence: 0.2, SuggestedLeverage: 15}
	kalman := domain.KalmanPrediction{Confidence: 0.1}
	ind := domain.TechnicalIndicators{RSI: 50, MACD: domain.MACD{Histogram: 0}, Volume: domain.VolumeStats{Ratio: 1.0}}

	leverage := ComputeLeverage(entry, kalman, ind, 20)

	assert.Equal(t, baseLeverage, leverage)
}

func TestComputeLeverage_NeverGoesBelowOne(t *testing.T) {
	entry := domain.EntryVerdict{Confidence: 0, SuggestedLeverage: 0}
	kalman := domain.KalmanPrediction{Confidence: 0}
	ind := domain.TechnicalIndicators{}

	leverage := ComputeLeverage(entry, kalman, ind, 0)

	assert.Equal(t, 1, leverage)
}

func TestComputeQuantity_FloorsToStepSizeAndRaisesToMinQty(t *testing.T) {
	available := decimal.NewFromInt(10000)
	price := decimal.NewFromInt(50000)
	step := decimal.NewFromFloat(0.001)
	minQty := decimal.NewFromFloat(0.001)

	qty := ComputeQuantity(20, available, price, step, minQty)

	// risk_pct = min(10, 20/3) = 6.667; capital_at_risk = 10000*6.667/100 = 666.7;
	// notional = 666.7*20 = 13333; qty = floor(13333/50000/0.001)*0.001 = 0.266.
	assert.True(t, qty.Equal(decimal.NewFromFloat(0.266)), "got %s", qty.String())
}

func TestComputeQuantity_RaisesBelowMinQty(t *testing.T) {
	qty := ComputeQuantity(1, decimal.NewFromInt(1), decimal.NewFromInt(50000), decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.001))
	assert.True(t, qty.Equal(decimal.NewFromFloat(0.001)))
}

func TestComputeQuantity_ZeroPriceOrStepReturnsZero(t *testing.T) {
	assert.True(t, ComputeQuantity(10, decimal.NewFromInt(1000), decimal.Zero, decimal.NewFromFloat(0.001), decimal.Zero).IsZero())
	assert.True(t, ComputeQuantity(10, decimal.NewFromInt(1000), decimal.NewFromInt(50000), decimal.Zero, decimal.Zero).IsZero())
}

func TestComputeStopLossTakeProfit_BuySideScenarioOne(t *testing.T) {
	entry := decimal.NewFromInt(50000)
	sl, tp := ComputeStopLossTakeProfit(domain.SideBuy, entry, 0.8)

	assert.True(t, sl.Equal(decimal.NewFromInt(49700)), "sl got %s", sl.String())
	// dist = 300; tp = 50000 + 300*(1.5+0.5*0.8) = 50000 + 300*1.9 = 50570
	assert.True(t, tp.Equal(decimal.NewFromInt(50570)), "tp got %s", tp.String())
}

func TestComputeStopLossTakeProfit_SellSideMirrorsBuy(t *testing.T) {
	entry := decimal.NewFromInt(50000)
	sl, tp := ComputeStopLossTakeProfit(domain.SideSell, entry, 0.8)

	assert.True(t, sl.Equal(decimal.NewFromInt(50300)), "sl got %s", sl.String())
	assert.True(t, tp.LessThan(entry))
}
