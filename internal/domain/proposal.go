package domain

import "github.com/shopspring/decimal"

// TradeProposal is what C8 hands to C6 for validation before it reaches C7.
type TradeProposal struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Leverage   int
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// WithQuantity returns a copy of the proposal with quantity replaced, used by
// the risk gate's "adjusted" retry path so the original proposal stays immutable.
func (p TradeProposal) WithQuantity(qty decimal.Decimal) TradeProposal {
	p.Quantity = qty
	return p
}
