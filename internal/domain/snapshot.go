package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is an ephemeral, one-per-tick view of top-of-book and 24h stats.
type MarketSnapshot struct {
	Price        decimal.Decimal
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Volume24h    decimal.Decimal
	Change24hPct decimal.Decimal
	High24h      decimal.Decimal
	Low24h       decimal.Decimal
	Timestamp    time.Time
}

// OrderBookLevel is a single price/quantity rung of an order book side.
type OrderBookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBook is bids (desc by price) and asks (asc by price).
type OrderBook struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

// Instrument carries venue precision/sizing metadata for an instrument.
type Instrument struct {
	Symbol   string
	MinQty   decimal.Decimal
	StepSize decimal.Decimal
	TickSize decimal.Decimal
	Base     string
	Quote    string
}
