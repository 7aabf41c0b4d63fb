package kalman

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func series(closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime: time.Unix(int64(i*300), 0),
			Close:    decimal.NewFromFloat(c),
			Volume:   decimal.NewFromFloat(100),
		}
	}
	return out
}

func TestPredict_ShortSeriesReturnsConservativeDefault(t *testing.T) {
	p := New()
	pred := p.Predict(series(1, 2, 3), 5)

	assert.Equal(t, 0.1, pred.Confidence)
	assert.Equal(t, domain.TrendNeutral, pred.Trend)
	assert.Equal(t, 0.1, pred.Accuracy)
	assert.Equal(t, 3.0, pred.PredictedPrice)
}

func TestPredict_UptrendIsBullish(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	p := New()
	pred := p.Predict(series(closes...), 5)

	assert.Equal(t, domain.TrendBullish, pred.Trend)
	// The filter lags a steady ramp, so the forecast is compared against the
	// last filtered value rather than the last close.
	assert.Greater(t, pred.PredictedPrice, p.state.X)
}

func TestPredict_FlatSeriesIsNeutralWithHighConfidence(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	p := New()
	pred := p.Predict(series(closes...), 5)

	assert.Equal(t, domain.TrendNeutral, pred.Trend)
	assert.Equal(t, 1.0, pred.Confidence)
}

func TestReset_ClearsPersistedState(t *testing.T) {
	p := New()
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	p.Predict(series(closes...), 5)
	assert.NotZero(t, p.state.X)

	p.Reset()
	assert.Zero(t, p.state.X)
}

func TestSetParams_Overrides(t *testing.T) {
	p := New()
	p.SetParams(0.5, 0.25)
	assert.Equal(t, 0.5, p.state.Q)
	assert.Equal(t, 0.25, p.state.R)
}
