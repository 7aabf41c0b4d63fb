package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an immutable OHLCV bucket for a fixed interval. Identity is OpenTime;
// once produced by the venue adapter it is never mutated in place.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Side is the direction of a position or proposed trade.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "Sell"
	}
	return "Buy"
}

// Opposite returns the other side, used by the no-hedging invariant check.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}
