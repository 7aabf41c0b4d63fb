// Package orchestrator implements the strategy orchestrator (C8): the
// control loop and per-symbol state machine that wires the candle buffer,
// indicators, Kalman predictor, reasoning client, history store, risk gate
// and venue adapter together, enforcing the at-most-one-position and
// no-hedging invariants and emitting metrics and structured logs.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/n3-n2-n1/kalmann/internal/candle"
	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/events"
	"github.com/n3-n2-n1/kalmann/internal/history"
	"github.com/n3-n2-n1/kalmann/internal/indicators"
	"github.com/n3-n2-n1/kalmann/internal/kalman"
	"github.com/n3-n2-n1/kalmann/internal/metrics"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/risk"
	"github.com/n3-n2-n1/kalmann/internal/venue"
)

// Config bundles the orchestrator's per-symbol tunables; every field the
// spec requires to be an exposed config knob (leverage cap in particular)
// lives here rather than as a compile-time constant.
type Config struct {
	Symbol          string
	Interval        string
	MaxLeverageCap  int
	ReadyMinCandles int
	ReadyTimeout    time.Duration
	VenueTimeout    time.Duration
	TickErrorDelay  time.Duration
	AutoTrading     bool // when false, decisions are computed and logged but no order is submitted
}

// defaults mirror §4.8's nominal values.
const (
	DefaultReadyMinCandles = 50
	DefaultReadyTimeout    = 60 * time.Second
	DefaultVenueTimeout    = 10 * time.Second
	DefaultTickErrorDelay  = 30 * time.Second
	DefaultAnalysisCandles = 100
	DefaultKalmanLookAhead = 5
)

// Orchestrator is C8. One instance manages exactly one symbol, matching the
// spec's "one orchestrator per symbol" multi-symbol deployment note.
type Orchestrator struct {
	cfg Config

	venue     venue.Venue
	reasoning reasoning.Client
	history   *history.Store
	riskGate  *risk.Gate
	buffer    *candle.Buffer
	kalman    *kalman.Predictor

	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	tracking *domain.PositionTracking

	cancel context.CancelFunc
	done   chan struct{}

	ticks  *events.TickBroadcaster
	trades *events.TradeBroadcaster
}

// WithBroadcasters wires the optional dashboard event feeds (§SUPPLEMENTED).
// Both broadcasters are nil-safe: an orchestrator built without this call
// publishes nothing and runs exactly as before.
func (o *Orchestrator) WithBroadcasters(ticks *events.TickBroadcaster, trades *events.TradeBroadcaster) *Orchestrator {
	o.ticks = ticks
	o.trades = trades
	return o
}

// New constructs an Orchestrator from its C1-C7 dependencies. The candle
// buffer is built internally from the venue adapter since it is owned
// exclusively by this component per the spec's shared-resource model.
func New(cfg Config, v venue.Venue, r reasoning.Client, h *history.Store, g *risk.Gate, logger *zap.Logger, m *metrics.Collector) *Orchestrator {
	if cfg.MaxLeverageCap <= 0 {
		cfg.MaxLeverageCap = 20
	}
	if cfg.ReadyMinCandles <= 0 {
		cfg.ReadyMinCandles = DefaultReadyMinCandles
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = DefaultVenueTimeout
	}
	if cfg.TickErrorDelay <= 0 {
		cfg.TickErrorDelay = DefaultTickErrorDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		venue:     v,
		reasoning: r,
		history:   h,
		riskGate:  g,
		kalman:    kalman.New(),
		logger:    logger.With(zap.String("component", "orchestrator"), zap.String("symbol", cfg.Symbol)),
		metrics:   m,
		buffer:    candle.New(v, cfg.Symbol, cfg.Interval, logger),
	}
}

// Start health-checks C4/C7, backfills C1, waits (bounded) until enough
// candles are buffered, then launches the periodic tick loop in the
// background. It returns once the engine is ready to trade or an error if
// startup failed; callers use Stop for graceful shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.venue.Health(ctx) {
		return errors.New("orchestrator: venue health check failed")
	}
	if !o.reasoning.Healthy(ctx) {
		return errors.New("orchestrator: reasoning engine health check failed")
	}

	if err := o.buffer.Start(ctx); err != nil {
		return errors.Wrap(err, "orchestrator: candle buffer start failed")
	}

	if err := o.waitReady(ctx); err != nil {
		o.buffer.Stop()
		return err
	}

	period, err := candle.Period(o.cfg.Interval)
	if err != nil {
		o.buffer.Stop()
		return errors.Wrap(err, "orchestrator: cannot determine tick period")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(runCtx, period)

	o.logger.Info("SYSTEM_START", zap.String("interval", o.cfg.Interval))
	return nil
}

func (o *Orchestrator) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(o.cfg.ReadyTimeout)
	for {
		if o.buffer.HasEnough(o.cfg.ReadyMinCandles) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("orchestrator: timed out waiting for %d candles", o.cfg.ReadyMinCandles)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Stop implements the graceful shutdown sequence: stop the loop, stop C1,
// close C5. Callers close the tools server and metrics server themselves
// since those are process-wide, not owned by a single orchestrator.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
	o.buffer.Stop()
	if err := o.history.Close(); err != nil {
		o.logger.Warn("SYSTEM_STOP_ERROR", zap.Error(err))
	}
	o.logger.Info("SYSTEM_STOP")
}

func (o *Orchestrator) run(ctx context.Context, period time.Duration) {
	defer close(o.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.tick(ctx); err != nil {
				o.logger.Error("SYSTEM_TICK_ERROR", zap.Error(err))
				o.metrics.Errors.WithLabelValues("orchestrator").Inc()
				select {
				case <-ctx.Done():
					return
				case <-time.After(o.cfg.TickErrorDelay):
				}
			}
		}
	}
}

// tick runs one full iteration of Steps A-C. A tick is serial: the next
// tick never starts before this one returns, per §5's ordering guarantee
// (the caller is a single time.Ticker-driven loop).
func (o *Orchestrator) tick(ctx context.Context) error {
	start := time.Now()

	candles := o.buffer.Get(DefaultAnalysisCandles)
	ind := indicators.All(candles)
	kalmanPred := o.kalman.Predict(candles, DefaultKalmanLookAhead)

	venueCtx, cancel := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	snapshot, err := o.venue.MarketData(venueCtx, o.cfg.Symbol)
	cancel()
	if err != nil {
		o.metrics.Errors.WithLabelValues("venue").Inc()
		return errors.Wrap(err, "tick: market data fetch failed")
	}

	histCtx := o.history.Context(ctx, o.cfg.Symbol)
	histText := history.FormatContext(histCtx)

	entryPrompt := reasoning.BuildEntryPrompt(reasoning.EntryPromptInput{
		Symbol:         o.cfg.Symbol,
		Snapshot:       snapshot,
		Indicators:     ind,
		Kalman:         kalmanPred,
		HistoryContext: histText,
	})
	entryVerdict := o.reasoning.AnalyseEntry(ctx, entryPrompt)

	o.recordAnalysisMetrics(ind, kalmanPred, entryVerdict, time.Since(start))
	o.logger.Info("AI_ANALYSIS",
		zap.String("decision", string(entryVerdict.Decision)),
		zap.Float64("confidence", entryVerdict.Confidence),
		zap.String("risk_level", string(entryVerdict.RiskLevel)))

	venueCtx2, cancel2 := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	positions, err := o.venue.Positions(venueCtx2, o.cfg.Symbol)
	cancel2()
	if err != nil {
		o.metrics.Errors.WithLabelValues("venue").Inc()
		return errors.Wrap(err, "tick: positions fetch failed")
	}

	o.mu.Lock()
	tracking := o.tracking
	o.mu.Unlock()

	switch {
	case len(positions) > 0:
		o.metrics.OpenPositions.WithLabelValues(o.cfg.Symbol).Set(1)
		if err := o.managePosition(ctx, positions[0], entryVerdict, ind, kalmanPred); err != nil {
			o.logger.Warn("tick: position management step failed", zap.Error(err))
		}
	case tracking != nil:
		// Invariant violation per §7: positions list is inconsistent with
		// local tracking. Log and let the next tick re-converge rather than
		// taking a destructive action now.
		o.logger.Warn("RISK_INVARIANT_MISMATCH",
			zap.String("reason", "tracking record exists but venue reports no open position"))
		o.reconcileMissingPosition(ctx, tracking)
	default:
		o.metrics.OpenPositions.WithLabelValues(o.cfg.Symbol).Set(0)
		if o.cfg.AutoTrading {
			if err := o.maybeOpen(ctx, entryVerdict, ind, kalmanPred, snapshot); err != nil {
				o.logger.Warn("tick: open step failed", zap.Error(err))
			}
		}
	}

	o.publishTick(snapshot, ind, entryVerdict)
	return nil
}

// publishTick feeds the optional dashboard's live tick stream; a nil
// broadcaster (the default) makes this a no-op.
func (o *Orchestrator) publishTick(snapshot domain.MarketSnapshot, ind domain.TechnicalIndicators, verdict domain.EntryVerdict) {
	if o.ticks == nil {
		return
	}
	o.mu.Lock()
	tracking := o.tracking
	o.mu.Unlock()

	snap := events.TickSnapshot{
		Timestamp:  time.Now(),
		Symbol:     o.cfg.Symbol,
		Price:      snapshot.Price.String(),
		RSI:        ind.RSI,
		Confidence: verdict.Confidence,
	}
	if tracking != nil {
		snap.HasPosition = true
		snap.Side = tracking.Side.String()
	}
	o.ticks.Publish(snap)
}

func (o *Orchestrator) recordAnalysisMetrics(ind domain.TechnicalIndicators, kalmanPred domain.KalmanPrediction, verdict domain.EntryVerdict, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RSI.Set(ind.RSI)
	o.metrics.MACDLine.Set(ind.MACD.Line)
	o.metrics.MACDSignal.Set(ind.MACD.Signal)
	o.metrics.MACDHistogram.Set(ind.MACD.Histogram)
	o.metrics.KalmanConfidence.Set(kalmanPred.Confidence)
	o.metrics.AIConfidence.Set(verdict.Confidence)
	o.metrics.AnalysisDuration.Observe(elapsed.Seconds())
	o.metrics.VenueHealthy.Set(1)
	o.metrics.ReasoningHealthy.Set(1)
}

// reconcileMissingPosition is a best-effort attempt to classify how a
// position the local tracking still references actually closed, so I4's
// "every opened trade eventually gets a terminal result" still holds even
// when the close was not observed by the normal check_tp_sl poll (e.g. the
// tracking's last_order_check_time window missed it).
func (o *Orchestrator) reconcileMissingPosition(ctx context.Context, tracking *domain.PositionTracking) {
	result, err := venue.CheckTPSL(ctx, o.venue, o.cfg.Symbol, tracking.LastOrderCheckTime)
	if err != nil {
		o.logger.Warn("reconcile: check_tp_sl failed", zap.Error(err))
		return
	}

	exitType := domain.ExitManual
	price := tracking.EntryPrice
	switch {
	case result.TPExecuted:
		exitType = domain.ExitTakeProfit
		price = result.Price
	case result.SLExecuted:
		exitType = domain.ExitStopLoss
		price = result.Price
	}

	o.closePosition(ctx, tracking, exitType, price, "venue")
}

// closePosition records the close in C5, emits the structured event, and
// drops the local tracking record.
func (o *Orchestrator) closePosition(ctx context.Context, tracking *domain.PositionTracking, exitType domain.ExitType, price decimal.Decimal, executedBy string) {
	durationMin := time.Since(tracking.EntryTime).Minutes()

	entryPrice, _ := tracking.EntryPrice.Float64()
	exitPrice, _ := price.Float64()
	sign := 1.0
	if tracking.Side == domain.SideSell {
		sign = -1.0
	}
	pnlPct := sign * (exitPrice - entryPrice) / entryPrice * 100

	pnl := exitPrice - entryPrice
	if tracking.Side == domain.SideSell {
		pnl = -pnl
	}

	exit := domain.TradeExit{
		Type:        exitType,
		Price:       exitPrice,
		PnL:         pnl,
		PnLPct:      pnlPct,
		DurationMin: durationMin,
		Time:        time.Now(),
	}

	if err := o.history.RecordClose(ctx, o.cfg.Symbol, tracking.TradeID, exit); err != nil {
		o.logger.Warn("TRADE_CLOSE_RECORD_FAILED", zap.Error(err))
	}

	o.logger.Info("TRADE_CLOSE",
		zap.String("type", string(exitType)),
		zap.String("executedBy", executedBy),
		zap.Float64("pnl_pct", pnlPct),
		zap.Float64("duration_min", durationMin))

	if o.trades != nil {
		o.trades.Publish(events.TradeEvent{
			Timestamp: exit.Time,
			TradeID:   tracking.TradeID,
			Symbol:    o.cfg.Symbol,
			Side:      tracking.Side.String(),
			Result:    string(domain.ResultFor(exit)),
			PnLPct:    decimal.NewFromFloat(pnlPct).StringFixed(2),
			ExitType:  string(exitType),
		})
	}

	o.mu.Lock()
	o.tracking = nil
	o.mu.Unlock()
}

// managePosition is Step B: reconcile, check TP/SL, advance the trailing
// stop, consult the reasoning engine, and fall back to the backup exit
// rules when the AI verdict itself did not trigger a close.
func (o *Orchestrator) managePosition(ctx context.Context, pos domain.PositionSnapshot, entryVerdict domain.EntryVerdict, ind domain.TechnicalIndicators, kalmanPred domain.KalmanPrediction) error {
	o.mu.Lock()
	tracking := o.tracking
	o.mu.Unlock()

	if tracking == nil {
		// The venue reports a position we have no local record for (e.g. a
		// restart). Adopt it at its current entry-based SL so the trailing
		// and backup-exit logic has a baseline to compare against.
		sl, _ := ComputeStopLossTakeProfit(pos.Side, pos.EntryPrice, 0.5)
		tracking = domain.NewPositionTracking(o.cfg.Symbol, pos.Side, pos.EntryPrice, sl, pos.Timestamp, newTradeID())
		o.mu.Lock()
		o.tracking = tracking
		o.mu.Unlock()
		o.logger.Warn("POSITION_ADOPTED_WITHOUT_TRACKING")
	}

	tracking.ObservePrice(pos.CurrentPrice)

	tpslCtx, cancel := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	check, err := venue.CheckTPSL(tpslCtx, o.venue, o.cfg.Symbol, tracking.LastOrderCheckTime)
	cancel()
	if err != nil {
		o.logger.Warn("check_tp_sl failed", zap.Error(err))
	} else {
		tracking.LastOrderCheckTime = time.Now()
		if check.TPExecuted {
			o.closePosition(ctx, tracking, domain.ExitTakeProfit, check.Price, "venue")
			return nil
		}
		if check.SLExecuted {
			o.closePosition(ctx, tracking, domain.ExitStopLoss, check.Price, "venue")
			return nil
		}
	}

	pnlPct, _ := pos.PnLPct().Float64()
	if candidate, ok := trailingStopCandidate(tracking, pnlPct); ok {
		updCtx, cancelUpd := context.WithTimeout(ctx, o.cfg.VenueTimeout)
		err := o.venue.UpdateStopLoss(updCtx, o.cfg.Symbol, candidate, decimal.Zero)
		cancelUpd()
		if err != nil && !venue.AllowListedWarning(err.Error()) {
			o.logger.Warn("TRAILING_STOP_UPDATE_FAILED", zap.Error(err))
		} else {
			tracking.CurrentStopLoss = candidate
			o.logger.Info("TRAILING_STOP_UPDATED", zap.String("new_sl", candidate.String()))
		}
	}

	hoursInPos := tracking.TimeInPosition(time.Now()).Hours()
	signals := reversalSignals(pos.Side, ind, kalmanPred)
	posPrompt := reasoning.BuildPositionPrompt(reasoning.PositionPromptInput{
		Position:        pos,
		HoursInPos:      hoursInPos,
		Indicators:      ind,
		Kalman:          kalmanPred,
		ReversalSignals: signals,
	})
	posVerdict := o.reasoning.AnalysePosition(ctx, posPrompt)
	o.logger.Info("AI_ANALYSIS",
		zap.String("action", string(posVerdict.Action)),
		zap.Float64("confidence", posVerdict.Confidence))

	if pct := posVerdict.Action.ClosePercentage(); pct > 0 {
		return o.executeClose(ctx, tracking, pos, pct, "ai")
	}

	// Backup exits only run when the AI verdict did not already act.
	backup := evaluateBackupExits(tracking, pos, entryVerdict, ind, time.Now())
	if backup.Rule == ruleNone {
		return nil
	}
	if backup.Rule == ruleProfitLadder {
		tracking.ProfitLadderFired[backup.ProfitRung] = true
	}
	return o.executeClose(ctx, tracking, pos, backup.ClosePct, "backup")
}

// executeClose submits a (partial or full) close and records the terminal
// trade only when the close was full, in line with I4: a TradeRecord is only
// ever finalised once per position.
func (o *Orchestrator) executeClose(ctx context.Context, tracking *domain.PositionTracking, pos domain.PositionSnapshot, pct int, executedBy string) error {
	execCtx, cancel := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	_, err := o.venue.Close(execCtx, o.cfg.Symbol, pos.Side, pct)
	cancel()
	if err != nil {
		return errors.Wrap(err, "executeClose: venue close failed")
	}
	o.logger.Info("TRADE_PARTIAL_CLOSE", zap.Int("pct", pct), zap.String("executedBy", executedBy))
	if pct >= 100 {
		o.closePosition(ctx, tracking, domain.ExitManual, pos.CurrentPrice, executedBy)
	}
	return nil
}

// maybeOpen is Step C: size a proposal from the freshly computed verdict,
// validate it through the risk gate (retrying once on an Adjusted
// quantity), and submit it to the venue on approval.
func (o *Orchestrator) maybeOpen(ctx context.Context, verdict domain.EntryVerdict, ind domain.TechnicalIndicators, kalmanPred domain.KalmanPrediction, snapshot domain.MarketSnapshot) error {
	if verdict.Decision == domain.EntryHold {
		return nil
	}
	side := domain.SideBuy
	if verdict.Decision == domain.EntrySell {
		side = domain.SideSell
	}

	balCtx, cancel := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	balance, err := o.venue.Balance(balCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "maybeOpen: balance fetch failed")
	}

	instCtx, cancel2 := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	instrument, err := o.venue.Instrument(instCtx, o.cfg.Symbol)
	cancel2()
	if err != nil {
		return errors.Wrap(err, "maybeOpen: instrument metadata fetch failed")
	}

	leverage := ComputeLeverage(verdict, kalmanPred, ind, o.cfg.MaxLeverageCap)
	qty := ComputeQuantity(leverage, balance.Available, snapshot.Price, instrument.StepSize, instrument.MinQty)
	sl, tp := ComputeStopLossTakeProfit(side, snapshot.Price, verdict.Confidence)

	proposal := domain.TradeProposal{
		Symbol:     o.cfg.Symbol,
		Side:       side,
		Quantity:   qty,
		Leverage:   leverage,
		StopLoss:   sl,
		TakeProfit: tp,
	}

	riskIn := risk.Inputs{
		CurrentPrice: snapshot.Price,
		TotalBalance: balance.Total,
		Volatility:   indicators.Volatility(o.buffer.Get(DefaultAnalysisCandles), DefaultAnalysisCandles),
		StepSize:     instrument.StepSize,
	}
	verdictRisk := o.riskGate.Validate(proposal, riskIn)
	if !verdictRisk.Approved && verdictRisk.Adjusted != nil {
		// One retry with the gate's own suggested quantity, per the spec's
		// "adjust and retry once" rule rather than discarding the signal.
		verdictRisk = o.riskGate.Validate(*verdictRisk.Adjusted, riskIn)
		if verdictRisk.Approved {
			proposal = *verdictRisk.Adjusted
		}
	}
	if !verdictRisk.Approved {
		o.logger.Info("RISK_REJECTED", zap.String("reason", verdictRisk.Reason))
		return nil
	}

	execStart := time.Now()
	orderCtx, cancel3 := context.WithTimeout(ctx, o.cfg.VenueTimeout)
	result, err := o.venue.SubmitOrder(orderCtx, o.cfg.Symbol, side, proposal.Quantity, proposal.Leverage, proposal.StopLoss, proposal.TakeProfit)
	cancel3()
	if o.metrics != nil {
		o.metrics.ExecutionDuration.Observe(time.Since(execStart).Seconds())
	}
	if err != nil {
		o.metrics.Errors.WithLabelValues("venue").Inc()
		return errors.Wrap(err, "maybeOpen: order submission failed")
	}
	if result.AvgPrice.IsZero() {
		// A venue binding that can't report its own fill price (see
		// venue/bybit.go's position-lookup fallback) would otherwise seed
		// entry price 0 and blow up every downstream pnl_pct computation.
		result.AvgPrice = snapshot.Price
	}

	tradeID := newTradeID()
	now := time.Now()
	qtyFloat, _ := proposal.Quantity.Float64()
	priceFloat, _ := result.AvgPrice.Float64()

	record := domain.TradeRecord{
		ID:         tradeID,
		OpenTime:   now,
		Side:       side,
		Confidence: verdict.Confidence,
		Entry: domain.TradeEntry{
			Price:       priceFloat,
			RSI:         ind.RSI,
			MACDHist:    ind.MACD.Histogram,
			KalmanTrend: kalmanPred.Trend,
			Leverage:    proposal.Leverage,
			Qty:         qtyFloat,
		},
	}
	if _, err := o.history.RecordOpen(ctx, o.cfg.Symbol, record); err != nil {
		o.logger.Warn("TRADE_OPEN_RECORD_FAILED", zap.Error(err))
	}
	o.riskGate.IncrementDaily()

	o.mu.Lock()
	o.tracking = domain.NewPositionTracking(o.cfg.Symbol, side, result.AvgPrice, proposal.StopLoss, now, tradeID)
	o.mu.Unlock()

	o.metrics.TradesTotal.Inc()
	o.logger.Info("TRADE_OPEN",
		zap.String("side", side.String()),
		zap.String("qty", proposal.Quantity.String()),
		zap.Int("leverage", proposal.Leverage),
		zap.String("order_id", result.OrderID))
	return nil
}

// Tracking exposes the current position-tracking record for the tools
// server and tests; nil when no position is open.
func (o *Orchestrator) Tracking() *domain.PositionTracking {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tracking
}

func newTradeID() string {
	return uuid.NewString()
}
