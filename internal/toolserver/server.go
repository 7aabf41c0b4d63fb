// Package toolserver exposes the engine's read/inspect/act surface as a
// bidirectional text-frame protocol over WebSocket, for manual inspection
// and ad hoc tool calls (dashboards, REPLs, debugging) independent of the
// orchestrator's own autonomous tick loop.
package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/indicators"
	"github.com/n3-n2-n1/kalmann/internal/kalman"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/venue"
)

// Request is one frame sent by a client.
type Request struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Timestamp int64           `json:"timestamp"`
}

// Response is one frame sent back. Exactly one of Result/Error is set.
type Response struct {
	ID        string `json:"id"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Tool describes one callable method for tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server is the C-level surface over C7 (venue), C2/C3 (indicators/Kalman)
// and C4 (reasoning) required by the minimum tool set.
type Server struct {
	addr      string
	v         venue.Venue
	reasoning reasoning.Client
	logger    *zap.Logger

	upgrader websocket.Upgrader
	http     *http.Server
	tools    []Tool
	handlers map[string]handlerFunc
}

// New builds a Server bound to the given venue and reasoning client.
func New(addr string, v venue.Venue, r reasoning.Client, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:      addr,
		v:         v,
		reasoning: r,
		logger:    logger.With(zap.String("component", "toolserver")),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tools server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the tools server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := s.dispatch(r.Context(), req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID, Timestamp: time.Now().UnixMilli()}

	if req.Method == "tools/list" {
		resp.Result = s.tools
		return resp
	}

	if req.Method == "tools/call" {
		var call struct {
			Name   string          `json:"name"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(req.Params, &call); err != nil {
			resp.Error = errors.Wrap(err, "invalid tools/call params").Error()
			return resp
		}
		handler, ok := s.handlers[call.Name]
		if !ok {
			resp.Error = "unknown tool: " + call.Name
			return resp
		}
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		result, err := handler(callCtx, call.Params)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Result = result
		return resp
	}

	resp.Error = "unknown method: " + req.Method
	return resp
}

func (s *Server) registerTools() {
	s.handlers = map[string]handlerFunc{
		"get_market_data":        s.getMarketData,
		"analyze_technical":      s.analyzeTechnical,
		"kalman_predict":         s.kalmanPredict,
		"ai_analysis":            s.aiAnalysis,
		"execute_trade":          s.executeTrade,
		"get_positions":          s.getPositions,
		"close_position":         s.closePosition,
		"get_market_data_1m":     s.getMarketData1m,
		"analyze_candle_pattern": s.analyzeCandlePattern,
		"detect_micro_trend":     s.detectMicroTrend,
		"analyze_order_book":     s.analyzeOrderBook,
	}
	s.tools = []Tool{
		{Name: "get_market_data", Description: "Current price, bid/ask and 24h stats for a symbol.",
			InputSchema: map[string]any{"symbol": "string"}},
		{Name: "analyze_technical", Description: "RSI/MACD/Bollinger/EMA/volume over the trailing candle window.",
			InputSchema: map[string]any{"symbol": "string", "interval": "string", "limit": "int"}},
		{Name: "kalman_predict", Description: "Kalman-filtered price forecast N periods ahead.",
			InputSchema: map[string]any{"symbol": "string", "interval": "string", "limit": "int", "look_ahead": "int"}},
		{Name: "ai_analysis", Description: "Reasoning-engine entry verdict for the current market state.",
			InputSchema: map[string]any{"symbol": "string", "interval": "string"}},
		{Name: "execute_trade", Description: "Submit a market order with SL/TP.",
			InputSchema: map[string]any{"symbol": "string", "side": "BUY|SELL", "qty": "string", "leverage": "int", "stop_loss": "string", "take_profit": "string"}},
		{Name: "get_positions", Description: "Open positions for a symbol.",
			InputSchema: map[string]any{"symbol": "string"}},
		{Name: "close_position", Description: "Close 25/50/100 percent of the open position.",
			InputSchema: map[string]any{"symbol": "string", "side": "BUY|SELL", "percentage": "25|50|100"}},
		{Name: "get_market_data_1m", Description: "Last N one-minute candles.",
			InputSchema: map[string]any{"symbol": "string", "limit": "int"}},
		{Name: "analyze_candle_pattern", Description: "Three-soldiers/momentum-weakening/volume-spike/doji flags.",
			InputSchema: map[string]any{"symbol": "string", "interval": "string"}},
		{Name: "detect_micro_trend", Description: "Macro vs micro timeframe trend divergence.",
			InputSchema: map[string]any{"symbol": "string", "macro_interval": "string", "micro_interval": "string"}},
		{Name: "analyze_order_book", Description: "Spread, imbalance, wall count and pressure label.",
			InputSchema: map[string]any{"symbol": "string", "depth": "int"}},
	}
}

type symbolParams struct {
	Symbol        string `json:"symbol"`
	Interval      string `json:"interval"`
	Limit         int    `json:"limit"`
	LookAhead     int    `json:"look_ahead"`
	MacroInterval string `json:"macro_interval"`
	MicroInterval string `json:"micro_interval"`
	Depth         int    `json:"depth"`
}

func parseSymbolParams(raw json.RawMessage) (symbolParams, error) {
	var p symbolParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrap(err, "invalid params")
	}
	if p.Symbol == "" {
		return p, errors.New("'symbol' is required")
	}
	if p.Interval == "" {
		p.Interval = "3m"
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.LookAhead <= 0 {
		p.LookAhead = 5
	}
	if p.Depth <= 0 {
		p.Depth = 20
	}
	return p, nil
}

func (s *Server) getMarketData(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	return s.v.MarketData(ctx, p.Symbol)
}

func (s *Server) analyzeTechnical(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	candles, err := s.v.Candles(ctx, p.Symbol, p.Interval, p.Limit)
	if err != nil {
		return nil, err
	}
	return indicators.All(candles), nil
}

func (s *Server) kalmanPredict(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	candles, err := s.v.Candles(ctx, p.Symbol, p.Interval, p.Limit)
	if err != nil {
		return nil, err
	}
	predictor := kalman.New()
	return predictor.Predict(candles, p.LookAhead), nil
}

func (s *Server) aiAnalysis(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	candles, err := s.v.Candles(ctx, p.Symbol, p.Interval, p.Limit)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.v.MarketData(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	ind := indicators.All(candles)
	pred := kalman.New().Predict(candles, 5)

	prompt := reasoning.BuildEntryPrompt(reasoning.EntryPromptInput{
		Symbol: p.Symbol, Snapshot: snapshot, Indicators: ind, Kalman: pred,
	})
	return s.reasoning.AnalyseEntry(ctx, prompt), nil
}

type executeTradeParams struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Qty        string `json:"qty"`
	Leverage   int    `json:"leverage"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
}

func (s *Server) executeTrade(ctx context.Context, raw json.RawMessage) (any, error) {
	var p executeTradeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "invalid params")
	}
	side, err := parseSide(p.Side)
	if err != nil {
		return nil, err
	}
	qty, err := decimal.NewFromString(p.Qty)
	if err != nil {
		return nil, errors.Wrap(err, "invalid 'qty'")
	}
	sl, _ := decimal.NewFromString(p.StopLoss)
	tp, _ := decimal.NewFromString(p.TakeProfit)

	return s.v.SubmitOrder(ctx, p.Symbol, side, qty, p.Leverage, sl, tp)
}

func (s *Server) getPositions(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	return s.v.Positions(ctx, p.Symbol)
}

type closePositionParams struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Percentage int    `json:"percentage"`
}

func (s *Server) closePosition(ctx context.Context, raw json.RawMessage) (any, error) {
	var p closePositionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "invalid params")
	}
	side, err := parseSide(p.Side)
	if err != nil {
		return nil, err
	}
	if p.Percentage != 25 && p.Percentage != 50 && p.Percentage != 100 {
		return nil, errors.New("'percentage' must be 25, 50 or 100")
	}
	return s.v.Close(ctx, p.Symbol, side, p.Percentage)
}

func (s *Server) getMarketData1m(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 || limit == 100 {
		limit = 50
	}
	return s.v.Candles(ctx, p.Symbol, "1m", limit)
}

func (s *Server) analyzeCandlePattern(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	candles, err := s.v.Candles(ctx, p.Symbol, p.Interval, p.Limit)
	if err != nil {
		return nil, err
	}
	return indicators.CandlePattern(candles), nil
}

func (s *Server) detectMicroTrend(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	macroInterval := defaultStr(p.MacroInterval, "1h")
	microInterval := defaultStr(p.MicroInterval, "1m")

	macro, err := s.v.Candles(ctx, p.Symbol, macroInterval, p.Limit)
	if err != nil {
		return nil, err
	}
	micro, err := s.v.Candles(ctx, p.Symbol, microInterval, p.Limit)
	if err != nil {
		return nil, err
	}
	return indicators.MultiTimeframeTrend(macro, micro), nil
}

func (s *Server) analyzeOrderBook(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := parseSymbolParams(raw)
	if err != nil {
		return nil, err
	}
	book, err := s.v.OrderBook(ctx, p.Symbol, p.Depth)
	if err != nil {
		return nil, err
	}
	return indicators.OrderBookPressure(book), nil
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "BUY":
		return domain.SideBuy, nil
	case "SELL":
		return domain.SideSell, nil
	default:
		return domain.SideBuy, errors.Errorf("invalid 'side': %s (must be BUY or SELL)", s)
	}
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
