package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func candleSeries(closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime: time.Unix(int64(i*300), 0),
			Open:     decimal.NewFromFloat(c - 1),
			High:     decimal.NewFromFloat(c * 1.01),
			Low:      decimal.NewFromFloat(c * 0.99),
			Close:    decimal.NewFromFloat(c),
			Volume:   decimal.NewFromFloat(100),
		}
	}
	return out
}

func TestRSI_NeutralOnShortInput(t *testing.T) {
	assert.Equal(t, 50.0, RSI(candleSeries(1, 2, 3), 14))
}

func TestRSI_HundredWhenNoLosses(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	assert.Equal(t, 100.0, RSI(candleSeries(closes...), 14))
}

func TestMACD_ZeroOnShortInput(t *testing.T) {
	assert.Equal(t, domain.MACD{}, MACD(candleSeries(1, 2, 3)))
}

func TestMACD_SignalIsNinetyPercentOfLine(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	m := MACD(candleSeries(closes...))
	assert.InDelta(t, m.Line*0.9, m.Signal, 1e-9)
	assert.InDelta(t, m.Line-m.Signal, m.Histogram, 1e-9)
}

func TestBollinger_MiddleIsMean(t *testing.T) {
	b := Bollinger(candleSeries(10, 10, 10, 10, 10), 5, 2)
	assert.Equal(t, 10.0, b.Middle)
	assert.Equal(t, 10.0, b.Upper)
	assert.Equal(t, 10.0, b.Lower)
}

func TestVolume_RatioAndAverage(t *testing.T) {
	candles := candleSeries(1, 2, 3)
	v := Volume(candles)
	assert.Equal(t, 100.0, v.Average)
	assert.Equal(t, 100.0, v.Current)
	assert.Equal(t, 1.0, v.Ratio)
}

func TestSupportResistance_ShortInputReturnsZeroStrength(t *testing.T) {
	sr := SupportResistance(candleSeries(1, 2), 5)
	assert.Equal(t, 0.0, sr.Strength)
}

func TestVolatility_FlatSeriesIsZero(t *testing.T) {
	v := Volatility(candleSeries(100, 100, 100, 100, 100), 4)
	assert.Equal(t, 0.0, v)
}

func TestOrderBookPressure_BullishWhenBidsDominate(t *testing.T) {
	book := domain.OrderBook{
		Bids: []domain.OrderBookLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(20)}},
		Asks: []domain.OrderBookLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(5)}},
	}
	p := OrderBookPressure(book)
	assert.Equal(t, "BULLISH", p.Pressure)
	assert.InDelta(t, 4.0, p.Imbalance, 1e-9)
}

func TestMultiTimeframeTrend_DivergenceFlagged(t *testing.T) {
	macro := candleSeries(100, 101, 102, 103, 104) // bullish drift
	micro := candleSeries(104, 103, 102, 101, 100) // bearish drift
	trend := MultiTimeframeTrend(macro, micro)
	assert.True(t, trend.Divergence)
	assert.Equal(t, "WAIT_FOR_ALIGNMENT", trend.SuggestedAction)
}

func TestCandlePattern_DetectsThreeGreenSoldiers(t *testing.T) {
	candles := candleSeries(1, 2, 3, 4)
	p := CandlePattern(candles)
	assert.True(t, p.ThreeGreenSoldiers)
	assert.False(t, p.ThreeRedSoldiers)
}
