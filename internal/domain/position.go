package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is the venue's view of a live position.
type PositionSnapshot struct {
	Symbol         string
	Side           Side
	Size           decimal.Decimal
	EntryPrice     decimal.Decimal
	CurrentPrice   decimal.Decimal
	UnrealisedPnL  decimal.Decimal
	Leverage       int
	Timestamp      time.Time
}

// PnLPct follows the donor convention documented in the open questions: it is
// NOT leverage-adjusted, computed as unrealised_pnl / (entry*size) * 100.
func (p PositionSnapshot) PnLPct() decimal.Decimal {
	denom := p.EntryPrice.Mul(p.Size)
	if denom.IsZero() {
		return decimal.Zero
	}
	return p.UnrealisedPnL.Div(denom).Mul(decimal.NewFromInt(100))
}

// PositionTracking is C8's local, in-memory bookkeeping for the management
// policy, keyed by symbol (at most one entry per symbol per invariant I1).
// Created on successful open; destroyed on full close.
type PositionTracking struct {
	Symbol             string
	Side               Side
	EntryPrice         decimal.Decimal
	EntryTime          time.Time
	MaxPriceSeen       decimal.Decimal
	MinPriceSeen       decimal.Decimal
	TrailingActive     bool
	ProfitLadderFired  map[int]bool
	LastOrderCheckTime time.Time
	TradeID            string

	// CurrentStopLoss is the SL price last applied at the venue (the
	// order's original entry-based SL until the trailing stop first moves
	// it). The management policy only calls UpdateStopLoss when a
	// candidate trailing SL strictly improves on this value.
	CurrentStopLoss decimal.Decimal
}

// NewPositionTracking seeds a tracking record from a freshly opened position.
func NewPositionTracking(symbol string, side Side, entryPrice, initialStopLoss decimal.Decimal, entryTime time.Time, tradeID string) *PositionTracking {
	return &PositionTracking{
		Symbol:             symbol,
		Side:               side,
		EntryPrice:         entryPrice,
		EntryTime:          entryTime,
		MaxPriceSeen:       entryPrice,
		MinPriceSeen:       entryPrice,
		ProfitLadderFired:  make(map[int]bool),
		LastOrderCheckTime: entryTime,
		TradeID:            tradeID,
		CurrentStopLoss:    initialStopLoss,
	}
}

// ObservePrice folds a newly seen price into the running max/min used by the
// trailing stop, per side.
func (t *PositionTracking) ObservePrice(price decimal.Decimal) {
	if t.Side == SideBuy {
		if price.GreaterThan(t.MaxPriceSeen) {
			t.MaxPriceSeen = price
		}
		return
	}
	if price.LessThan(t.MinPriceSeen) || t.MinPriceSeen.IsZero() {
		t.MinPriceSeen = price
	}
}

// TimeInPosition returns how long the position has been open as of now.
func (t *PositionTracking) TimeInPosition(now time.Time) time.Duration {
	return now.Sub(t.EntryTime)
}
