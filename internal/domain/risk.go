package domain

import "github.com/shopspring/decimal"

// RiskVerdict is C6's answer to validate(proposal). Adjusted is only set when
// Approved is false but the proposal can be retried with a smaller quantity.
type RiskVerdict struct {
	Approved  bool
	Reason    string
	RiskScore float64
	Adjusted  *TradeProposal
}

// NotionalOf is a small shared helper for quantity*price sizing math used by
// both the risk gate and the orchestrator's sizing step.
func NotionalOf(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price)
}
