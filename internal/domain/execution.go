package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderResult is what submit_order returns on success.
type OrderResult struct {
	OrderID  string
	AvgPrice decimal.Decimal
	Fees     decimal.Decimal
}

// Balance is the venue's account balance view; Available falls back to 95% of
// Total when the venue omits it (tolerant-of-missing-fields contract).
type Balance struct {
	Total      decimal.Decimal
	Available  decimal.Decimal
	UsedMargin decimal.Decimal
}

// OrderHistoryEntry is a single filled-order record from order_history, used
// by check_tp_sl to detect whether a TP/SL fired since a given timestamp.
type OrderHistoryEntry struct {
	OrderID   string
	Symbol    string
	Side      Side
	Type      string // e.g. "TAKE_PROFIT", "STOP_LOSS", "MARKET", "LIMIT"
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Time      time.Time
	ClientID  string
}

// TPSLCheck is check_tp_sl's result.
type TPSLCheck struct {
	TPExecuted bool
	SLExecuted bool
	Price      decimal.Decimal
	Time       time.Time
}
