// Package venue defines the typed transport boundary (C7) over a perpetual
// futures exchange: market data, candles, order book, order submission and
// management, positions, balance and instrument metadata. It makes no
// trading decisions; every method is a thin, auth-signed wrapper around the
// exchange's REST API.
package venue

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// Venue is the narrow interface C8 and the tools server depend on. Concrete
// bindings (Bybit, Binance, Hyperliquid, simulate) live in sibling files and
// are selected by NewProvider, mirroring the donor's service_provider.go
// type-switch factory.
type Venue interface {
	MarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
	OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)

	SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, leverage int, sl, tp decimal.Decimal) (domain.OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	Positions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error)
	Balance(ctx context.Context) (domain.Balance, error)
	UpdateStopLoss(ctx context.Context, symbol string, sl, tp decimal.Decimal) error
	Close(ctx context.Context, symbol string, side domain.Side, pct int) (domain.OrderResult, error)
	OrderHistory(ctx context.Context, symbol string, n int) ([]domain.OrderHistoryEntry, error)
	Instrument(ctx context.Context, symbol string) (domain.Instrument, error)
	Health(ctx context.Context) bool
}

// CheckTPSL scans recent order history for a TP or SL fill after sinceTS.
// It is not itself a Venue method so it can be shared by every binding
// without each one re-implementing the same scan-and-classify logic.
func CheckTPSL(ctx context.Context, v Venue, symbol string, sinceTS time.Time) (domain.TPSLCheck, error) {
	entries, err := v.OrderHistory(ctx, symbol, 20)
	if err != nil {
		return domain.TPSLCheck{}, err
	}

	var result domain.TPSLCheck
	for _, e := range entries {
		if !e.Time.After(sinceTS) {
			continue
		}
		switch e.Type {
		case "TAKE_PROFIT":
			result.TPExecuted = true
			result.Price = e.Price
			result.Time = e.Time
		case "STOP_LOSS":
			result.SLExecuted = true
			result.Price = e.Price
			result.Time = e.Time
		}
	}
	return result, nil
}

// AllowListedWarning reports whether an exchange error message is a known
// benign condition that should be demoted to a warning log instead of a
// propagated failure (e.g. "leverage not modified" on a duplicate set_leverage call).
func AllowListedWarning(msg string) bool {
	lower := strings.ToLower(msg)
	for _, allowed := range []string{
		"leverage not modified",
		"not modified",
		"no need to change",
	} {
		if strings.Contains(lower, allowed) {
			return true
		}
	}
	return false
}
