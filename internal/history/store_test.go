package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	return s
}

func TestRecordOpenThenClose_WinResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordOpen(ctx, "BTCUSDT", domain.TradeRecord{
		OpenTime: time.Now(),
		Side:     domain.SideBuy,
		Entry:    domain.TradeEntry{Price: 100, RSI: 28},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	err = s.RecordClose(ctx, "BTCUSDT", id, domain.TradeExit{
		Type: domain.ExitTakeProfit, Price: 105, PnL: 5, PnLPct: 5, Time: time.Now(),
	})
	require.NoError(t, err)

	hctx := s.Context(ctx, "BTCUSDT")
	require.Len(t, hctx.Recent, 1)
	assert.Equal(t, domain.ResultWin, hctx.Recent[0].Result)
	assert.Equal(t, 1, hctx.Daily.Trades)
	assert.Equal(t, 1, hctx.Daily.Wins)
	assert.Equal(t, 1, hctx.Global.Trades)
}

func TestRecordClose_LossResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordOpen(ctx, "ETHUSDT", domain.TradeRecord{OpenTime: time.Now(), Side: domain.SideSell})
	require.NoError(t, err)

	err = s.RecordClose(ctx, "ETHUSDT", id, domain.TradeExit{
		Type: domain.ExitStopLoss, Price: 95, PnL: -5, PnLPct: -5, Time: time.Now(),
	})
	require.NoError(t, err)

	hctx := s.Context(ctx, "ETHUSDT")
	assert.Equal(t, domain.ResultLoss, hctx.Recent[0].Result)
	assert.Equal(t, 1, hctx.Daily.Losses)
}

func TestRecordClose_UnknownTradeIDErrors(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordClose(context.Background(), "BTCUSDT", "nonexistent", domain.TradeExit{})
	assert.Error(t, err)
}

func TestDerivePatterns_FlagsLiquidations(t *testing.T) {
	records := []domain.TradeRecord{
		{Result: domain.ResultLiquidation, Exit: &domain.TradeExit{}},
	}
	patterns := derivePatterns(records)
	require.Len(t, patterns, 1)
	assert.Contains(t, patterns[0], "liquidation")
}

func TestFormatContext_IncludesWinRate(t *testing.T) {
	hctx := domain.HistoryContext{
		Daily: domain.DailyStats{Trades: 2, Wins: 1},
	}
	out := FormatContext(hctx)
	assert.Contains(t, out, "50%")
}
