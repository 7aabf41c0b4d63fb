package candle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

type fakeVenue struct {
	stubVenue
	candles    []domain.Candle
	candlesErr error
}

func (f *fakeVenue) Candles(_ context.Context, _, _ string, limit int) ([]domain.Candle, error) {
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	if limit > len(f.candles) {
		limit = len(f.candles)
	}
	return f.candles[len(f.candles)-limit:], nil
}

func mkCandle(minute int, close float64) domain.Candle {
	return domain.Candle{
		OpenTime: time.Unix(int64(minute*60), 0),
		Close:    decimal.NewFromFloat(close),
	}
}

func TestBuffer_StartBackfillsAndGet(t *testing.T) {
	v := &fakeVenue{candles: []domain.Candle{mkCandle(1, 10), mkCandle(2, 11), mkCandle(3, 12)}}
	b := New(v, "BTCUSDT", "1m", nil)

	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	got := b.Get(2)
	require.Len(t, got, 2)
	assert.True(t, got[1].OpenTime.After(got[0].OpenTime))
	assert.True(t, b.HasEnough(3))
	assert.False(t, b.HasEnough(4))
}

func TestBuffer_StartFailsOnBackfillError(t *testing.T) {
	v := &fakeVenue{candlesErr: assert.AnError}
	b := New(v, "BTCUSDT", "1m", nil)

	err := b.Start(context.Background())
	assert.Error(t, err)
}

func TestDedupeAndTrim_KeepsNewerOnCollisionAndOrders(t *testing.T) {
	stale := mkCandle(1, 10)
	fresh := mkCandle(1, 10.5)
	candles := []domain.Candle{mkCandle(2, 11), stale, fresh}

	out := dedupeAndTrim(candles, 10)

	require.Len(t, out, 2)
	assert.True(t, out[0].OpenTime.Before(out[1].OpenTime))
	assert.True(t, out[0].Close.Equal(fresh.Close))
}

func TestDedupeAndTrim_TrimsToCap(t *testing.T) {
	var candles []domain.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, mkCandle(i, float64(i)))
	}

	out := dedupeAndTrim(candles, 3)

	require.Len(t, out, 3)
	assert.Equal(t, mkCandle(7, 7).OpenTime, out[0].OpenTime)
	assert.Equal(t, mkCandle(9, 9).OpenTime, out[2].OpenTime)
}

func TestStats_EmptyBuffer(t *testing.T) {
	b := New(&fakeVenue{}, "BTCUSDT", "1m", nil)
	assert.Equal(t, Stats{}, b.Stats())
}
