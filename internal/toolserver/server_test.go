package toolserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// stubVenue implements venue.Venue with canned data: MarketData, Candles and
// OrderBook return its fields, Close returns closeErr, and every other
// method returns zero values.
type stubVenue struct {
	candles  []domain.Candle
	snapshot domain.MarketSnapshot
	book     domain.OrderBook
	closeErr error
}

func (s stubVenue) MarketData(context.Context, string) (domain.MarketSnapshot, error) {
	return s.snapshot, nil
}
func (s stubVenue) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return s.candles, nil
}
func (s stubVenue) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return s.book, nil
}
func (stubVenue) SubmitOrder(context.Context, string, domain.Side, decimal.Decimal, int, decimal.Decimal, decimal.Decimal) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (stubVenue) SetLeverage(context.Context, string, int) error { return nil }
func (stubVenue) Positions(context.Context, string) ([]domain.PositionSnapshot, error) {
	return nil, nil
}
func (stubVenue) Balance(context.Context) (domain.Balance, error) { return domain.Balance{}, nil }
func (stubVenue) UpdateStopLoss(context.Context, string, decimal.Decimal, decimal.Decimal) error {
	return nil
}
func (s stubVenue) Close(context.Context, string, domain.Side, int) (domain.OrderResult, error) {
	return domain.OrderResult{}, s.closeErr
}
func (stubVenue) OrderHistory(context.Context, string, int) ([]domain.OrderHistoryEntry, error) {
	return nil, nil
}
func (stubVenue) Instrument(context.Context, string) (domain.Instrument, error) {
	return domain.Instrument{}, nil
}
func (stubVenue) Health(context.Context) bool { return true }

type stubReasoning struct{}

func (stubReasoning) AnalyseEntry(context.Context, string) domain.EntryVerdict {
	return domain.ConservativeEntryVerdict("test stub")
}
func (stubReasoning) AnalysePosition(context.Context, string) domain.PositionVerdict {
	return domain.ConservativePositionVerdict("test stub")
}
func (stubReasoning) Healthy(context.Context) bool { return true }

func sampleCandles(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	price := 50000.0
	for i := range out {
		price += 1
		out[i] = domain.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open:      decimal.NewFromFloat(price - 1),
			High:      decimal.NewFromFloat(price + 2),
			Low:       decimal.NewFromFloat(price - 2),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(100),
		}
	}
	return out
}

func newTestServer() *Server {
	v := stubVenue{candles: sampleCandles(60), snapshot: domain.MarketSnapshot{Price: decimal.NewFromInt(50000)}}
	return New(":0", v, stubReasoning{}, nil)
}

func TestDispatch_ToolsListReturnsAllElevenTools(t *testing.T) {
	s := newTestServer()
	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "tools/list"})

	require.Empty(t, resp.Error)
	tools, ok := resp.Result.([]Tool)
	require.True(t, ok)
	assert.Len(t, tools, 11)
}

func TestDispatch_UnknownMethodReturnsError(t *testing.T) {
	s := newTestServer()
	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "bogus"})
	assert.NotEmpty(t, resp.Error)
}

func TestDispatch_ToolsCallUnknownToolReturnsError(t *testing.T) {
	s := newTestServer()
	params, _ := json.Marshal(struct {
		Name   string `json:"name"`
		Params any    `json:"params"`
	}{Name: "does_not_exist"})

	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "tools/call", Params: params})
	assert.Contains(t, resp.Error, "unknown tool")
}

func TestDispatch_GetMarketDataReturnsSnapshot(t *testing.T) {
	s := newTestServer()
	callParams, _ := json.Marshal(map[string]any{"symbol": "BTCUSDT"})
	params, _ := json.Marshal(struct {
		Name   string          `json:"name"`
		Params json.RawMessage `json:"params"`
	}{Name: "get_market_data", Params: callParams})

	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "tools/call", Params: params})

	require.Empty(t, resp.Error)
	snapshot, ok := resp.Result.(domain.MarketSnapshot)
	require.True(t, ok)
	assert.True(t, snapshot.Price.Equal(decimal.NewFromInt(50000)))
}

func TestDispatch_AnalyzeTechnicalReturnsIndicators(t *testing.T) {
	s := newTestServer()
	callParams, _ := json.Marshal(map[string]any{"symbol": "BTCUSDT", "interval": "3m", "limit": 60})
	params, _ := json.Marshal(struct {
		Name   string          `json:"name"`
		Params json.RawMessage `json:"params"`
	}{Name: "analyze_technical", Params: callParams})

	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "tools/call", Params: params})

	require.Empty(t, resp.Error)
	_, ok := resp.Result.(domain.TechnicalIndicators)
	assert.True(t, ok)
}

func TestDispatch_ClosePositionRejectsInvalidPercentage(t *testing.T) {
	s := newTestServer()
	callParams, _ := json.Marshal(map[string]any{"symbol": "BTCUSDT", "side": "BUY", "percentage": 33})
	params, _ := json.Marshal(struct {
		Name   string          `json:"name"`
		Params json.RawMessage `json:"params"`
	}{Name: "close_position", Params: callParams})

	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "tools/call", Params: params})

	assert.Contains(t, resp.Error, "percentage")
}

func TestDispatch_ExecuteTradeRejectsInvalidSide(t *testing.T) {
	s := newTestServer()
	callParams, _ := json.Marshal(map[string]any{"symbol": "BTCUSDT", "side": "LONG", "qty": "1"})
	params, _ := json.Marshal(struct {
		Name   string          `json:"name"`
		Params json.RawMessage `json:"params"`
	}{Name: "execute_trade", Params: callParams})

	resp := s.dispatch(context.Background(), Request{ID: "1", Method: "tools/call", Params: params})

	assert.Contains(t, resp.Error, "side")
}
