package venue

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"
)

// NewProvider is the single point of truth for dispatching an authenticated
// exchange client handle to its concrete Venue binding, mirroring the
// donor's service_provider.go client-type switch. client is whatever the
// SDK's own constructor returns (*binance.Client, *bybit.Client, ...); the
// caller builds it once at startup from API credentials in config.
func NewProvider(client any, logger *zap.Logger) (Venue, error) {
	switch c := client.(type) {
	case *binance.Client:
		return NewBinanceVenue(c), nil
	case *bybit.Client:
		return NewBybitVenue(c), nil
	case *hyperliquidClientHandle:
		return NewHyperliquidVenue(c.Exchange, c.AccountAddress), nil
	default:
		return nil, fmt.Errorf("unsupported venue client type: %T", client)
	}
}

// hyperliquidClientHandle bundles the signed exchange handle with the
// account address derived from the wallet key, since go-hyperliquid's
// Exchange alone does not expose the address UserState needs.
type hyperliquidClientHandle struct {
	Exchange       *hyperliquid.Exchange
	AccountAddress string
}

// NewHyperliquidClientHandle is the constructor callers use to build the
// any passed into NewProvider for the Hyperliquid case.
func NewHyperliquidClientHandle(ex *hyperliquid.Exchange, accountAddress string) any {
	return &hyperliquidClientHandle{Exchange: ex, AccountAddress: accountAddress}
}

// NewSimulated wraps any already-constructed live Venue in a paper-trading
// shell, regardless of which exchange it talks to for market data.
func NewSimulated(source Venue, logger *zap.Logger) Venue {
	return NewSimulateVenue(source, logger)
}
