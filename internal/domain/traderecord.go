package domain

import "time"

// ExitType classifies how a trade was closed.
type ExitType string

const (
	ExitTakeProfit ExitType = "TP"
	ExitStopLoss   ExitType = "SL"
	ExitLiquidation ExitType = "LIQUIDATION"
	ExitManual     ExitType = "MANUAL"
)

// TradeResult is the terminal outcome recorded against a TradeRecord.
type TradeResult string

const (
	ResultPending     TradeResult = "PENDING"
	ResultWin         TradeResult = "WIN"
	ResultLoss        TradeResult = "LOSS"
	ResultLiquidation TradeResult = "LIQUIDATION"
)

// TradeEntry captures the state of the market at the moment a trade opened,
// embedded in the persisted TradeRecord for later pattern summarisation.
type TradeEntry struct {
	Price       float64
	RSI         float64
	MACDHist    float64
	KalmanTrend TrendLabel
	Leverage    int
	Qty         float64
}

// TradeExit captures the state of the market at the moment a trade closed.
type TradeExit struct {
	Type         ExitType
	Price        float64
	PnL          float64
	PnLPct       float64
	DurationMin  float64
	Time         time.Time
}

// TradeRecord is the persisted, append-only envelope C5 tracks per trade.
type TradeRecord struct {
	ID        string
	OpenTime  time.Time
	Side      Side
	Confidence float64
	Entry     TradeEntry
	Exit      *TradeExit
	Result    TradeResult
}

// ResultFor derives the terminal TradeResult from a closing exit, per the
// testable-property rule: WIN iff pnl>0, LOSS iff pnl<=0, LIQUIDATION iff the
// exit type is itself a liquidation.
func ResultFor(exit TradeExit) TradeResult {
	if exit.Type == ExitLiquidation {
		return ResultLiquidation
	}
	if exit.PnL > 0 {
		return ResultWin
	}
	return ResultLoss
}
