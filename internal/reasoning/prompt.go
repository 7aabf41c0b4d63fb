package reasoning

import (
	"fmt"
	"strings"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// EntryPromptInput bundles everything analyse_entry's prompt needs.
type EntryPromptInput struct {
	Symbol         string
	Snapshot       domain.MarketSnapshot
	Indicators     domain.TechnicalIndicators
	Kalman         domain.KalmanPrediction
	HistoryContext string // pre-formatted via history.FormatContext; empty if unavailable
}

// BuildEntryPrompt assembles the entry-decision prompt: market snapshot,
// annotated indicators, Kalman block, optional history context, explicit
// bidirectional decision rules, and the required JSON schema. The prompt
// is symmetric in its bullish/bearish treatment by construction: every
// threshold is stated for both BUY and SELL.
func BuildEntryPrompt(in EntryPromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Symbol: %s\n\n", in.Symbol)

	fmt.Fprintf(&b, "Market snapshot:\n  price=%s bid=%s ask=%s\n  24h change=%s%% volume=%s\n\n",
		in.Snapshot.Price.String(), in.Snapshot.Bid.String(), in.Snapshot.Ask.String(),
		in.Snapshot.Change24hPct.String(), in.Snapshot.Volume24h.String())

	rsiTag := "NEUTRAL"
	if in.Indicators.RSI < 30 {
		rsiTag = "OVERSOLD"
	} else if in.Indicators.RSI > 70 {
		rsiTag = "OVERBOUGHT"
	}
	fmt.Fprintf(&b, "Technical indicators:\n  RSI=%s (%s)\n  MACD: line=%s signal=%s histogram=%s\n",
		formatFloat(in.Indicators.RSI), rsiTag,
		formatFloat(in.Indicators.MACD.Line), formatFloat(in.Indicators.MACD.Signal), formatFloat(in.Indicators.MACD.Histogram))
	fmt.Fprintf(&b, "  Bollinger: upper=%s middle=%s lower=%s\n",
		formatFloat(in.Indicators.Bollinger.Upper), formatFloat(in.Indicators.Bollinger.Middle), formatFloat(in.Indicators.Bollinger.Lower))
	fmt.Fprintf(&b, "  EMA: e9=%s e21=%s e50=%s\n",
		formatFloat(in.Indicators.EMA.E9), formatFloat(in.Indicators.EMA.E21), formatFloat(in.Indicators.EMA.E50))
	fmt.Fprintf(&b, "  Volume: avg=%s current=%s ratio=%s\n\n",
		formatFloat(in.Indicators.Volume.Average), formatFloat(in.Indicators.Volume.Current), formatFloat(in.Indicators.Volume.Ratio))

	fmt.Fprintf(&b, "Kalman prediction:\n  predicted_price=%s confidence=%s trend=%s accuracy=%s\n\n",
		formatFloat(in.Kalman.PredictedPrice), formatFloat(in.Kalman.Confidence), in.Kalman.Trend, formatFloat(in.Kalman.Accuracy))

	if in.HistoryContext != "" {
		b.WriteString("Trading history context:\n")
		b.WriteString(in.HistoryContext)
		b.WriteString("\n")
	}

	b.WriteString(`Decision rules (apply symmetrically — there is no long bias):
- BUY when RSI is OVERSOLD or near it, MACD histogram is positive or rising, Kalman trend is bullish, and price is near or below the lower Bollinger band.
- SELL when RSI is OVERBOUGHT or near it, MACD histogram is negative or falling, Kalman trend is bearish, and price is near or above the upper Bollinger band.
- HOLD when signals disagree or conviction is low.

Respond with exactly one JSON object of this shape:
{"decision":"BUY|SELL|HOLD","confidence":0.0,"reasoning":"...","suggested_leverage":5,"risk_level":"low|medium|high","market_sentiment":"bullish|bearish|neutral"}
`)

	return b.String()
}

// PositionPromptInput bundles everything analyse_position's prompt needs.
type PositionPromptInput struct {
	Position       domain.PositionSnapshot
	HoursInPos     float64
	Indicators     domain.TechnicalIndicators
	Kalman         domain.KalmanPrediction
	ReversalSignals []string
}

// BuildPositionPrompt assembles the position-management prompt: current
// side/PnL, time in position, indicators, Kalman, side-conditioned reversal
// signals, and the CLOSE_25/50/100/HOLD schema.
func BuildPositionPrompt(in PositionPromptInput) string {
	var b strings.Builder

	pnlPct := in.Position.PnLPct()
	fmt.Fprintf(&b, "Open position: side=%s size=%s entry=%s current=%s pnl_pct=%s%%\n",
		in.Position.Side, in.Position.Size.String(), in.Position.EntryPrice.String(),
		in.Position.CurrentPrice.String(), pnlPct.String())
	fmt.Fprintf(&b, "Time in position: %.1fh\n\n", in.HoursInPos)

	fmt.Fprintf(&b, "Technical indicators:\n  RSI=%s MACD_histogram=%s\n  Kalman: trend=%s confidence=%s\n\n",
		formatFloat(in.Indicators.RSI), formatFloat(in.Indicators.MACD.Histogram),
		in.Kalman.Trend, formatFloat(in.Kalman.Confidence))

	if len(in.ReversalSignals) > 0 {
		b.WriteString("Reversal signals against the current side:\n")
		for _, s := range in.ReversalSignals {
			b.WriteString("  - " + s + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`Management rules tuned for scalping:
- CLOSE_100 on strong reversal evidence against the current side.
- CLOSE_50 on moderate reversal evidence or a volatility spike.
- CLOSE_25 to take partial profit as pnl_pct crosses the first profit threshold.
- HOLD otherwise.

Respond with exactly one JSON object of this shape:
{"action":"HOLD|CLOSE_25|CLOSE_50|CLOSE_100","confidence":0.0,"reasoning":"...","risk_level":"low|medium|high"}
`)

	return b.String()
}
