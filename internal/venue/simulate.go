package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// defaultSimulatedEquity seeds a fresh paper-trading wallet.
var defaultSimulatedEquity = decimal.NewFromInt(10000)

// SimulateVenue is a paper-trading Venue: market data (price, candles, order
// book, instrument) is proxied to a real venue, but orders never leave the
// process. Fills are instantaneous at the last observed price and PnL is
// tracked in memory only, so restarting the process resets the book.
type SimulateVenue struct {
	mu       sync.RWMutex
	source   Venue
	logger   *zap.Logger
	wallet   decimal.Decimal
	position map[string]*simPosition
	history  map[string][]domain.OrderHistoryEntry
}

type simPosition struct {
	side       domain.Side
	size       decimal.Decimal
	entryPrice decimal.Decimal
	leverage   int
	openedAt   time.Time
	sl, tp     decimal.Decimal
}

// NewSimulateVenue wraps source for market data while simulating execution
// against an in-memory wallet and position book.
func NewSimulateVenue(source Venue, logger *zap.Logger) *SimulateVenue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulateVenue{
		source:   source,
		logger:   logger,
		wallet:   defaultSimulatedEquity,
		position: make(map[string]*simPosition),
		history:  make(map[string][]domain.OrderHistoryEntry),
	}
}

func (v *SimulateVenue) MarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	return v.source.MarketData(ctx, symbol)
}

func (v *SimulateVenue) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return v.source.Candles(ctx, symbol, interval, limit)
}

func (v *SimulateVenue) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return v.source.OrderBook(ctx, symbol, depth)
}

func (v *SimulateVenue) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	return v.source.Instrument(ctx, symbol)
}

func (v *SimulateVenue) Health(ctx context.Context) bool {
	return v.source.Health(ctx)
}

func (v *SimulateVenue) SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, leverage int, sl, tp decimal.Decimal) (domain.OrderResult, error) {
	snapshot, err := v.source.MarketData(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to fetch simulated fill price")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	clientID := fmt.Sprintf("sim-%d", time.Now().UnixNano())
	existing := v.position[symbol]

	if existing == nil {
		v.position[symbol] = &simPosition{
			side: side, size: qty, entryPrice: snapshot.Price,
			leverage: leverage, openedAt: time.Now(), sl: sl, tp: tp,
		}
	} else if existing.side == side {
		totalCost := existing.entryPrice.Mul(existing.size).Add(snapshot.Price.Mul(qty))
		existing.size = existing.size.Add(qty)
		existing.entryPrice = totalCost.Div(existing.size)
	} else {
		// opposite side: net against the existing position
		if qty.GreaterThanOrEqual(existing.size) {
			remainder := qty.Sub(existing.size)
			v.realize(symbol, existing, existing.size, snapshot.Price)
			if remainder.GreaterThan(decimal.Zero) {
				v.position[symbol] = &simPosition{side: side, size: remainder, entryPrice: snapshot.Price, leverage: leverage, openedAt: time.Now()}
			} else {
				delete(v.position, symbol)
			}
		} else {
			v.realize(symbol, existing, qty, snapshot.Price)
			existing.size = existing.size.Sub(qty)
		}
	}

	v.appendHistory(symbol, clientID, side, "MARKET", snapshot.Price, qty)
	v.logger.Info("simulated fill",
		zap.String("symbol", symbol), zap.String("side", side.String()),
		zap.String("qty", qty.String()), zap.String("price", snapshot.Price.String()))

	return domain.OrderResult{OrderID: clientID, AvgPrice: snapshot.Price}, nil
}

// realize books the PnL of closing qty of pos at exitPrice into the paper wallet.
func (v *SimulateVenue) realize(symbol string, pos *simPosition, qty, exitPrice decimal.Decimal) {
	pnl := exitPrice.Sub(pos.entryPrice).Mul(qty)
	if pos.side == domain.SideSell {
		pnl = pos.entryPrice.Sub(exitPrice).Mul(qty)
	}
	v.wallet = v.wallet.Add(pnl)
}

func (v *SimulateVenue) appendHistory(symbol, orderID string, side domain.Side, orderType string, price, qty decimal.Decimal) {
	entries := append(v.history[symbol], domain.OrderHistoryEntry{
		OrderID: orderID, Symbol: symbol, Side: side, Type: orderType,
		Price: price, Qty: qty, Time: time.Now(), ClientID: orderID,
	})
	if len(entries) > 200 {
		entries = entries[len(entries)-200:]
	}
	v.history[symbol] = entries
}

func (v *SimulateVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if pos, ok := v.position[symbol]; ok {
		pos.leverage = leverage
	}
	return nil
}

func (v *SimulateVenue) Positions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	v.mu.RLock()
	pos, ok := v.position[symbol]
	v.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	snapshot, err := v.source.MarketData(ctx, symbol)
	if err != nil {
		return nil, err
	}

	pnl := snapshot.Price.Sub(pos.entryPrice).Mul(pos.size)
	if pos.side == domain.SideSell {
		pnl = pos.entryPrice.Sub(snapshot.Price).Mul(pos.size)
	}

	return []domain.PositionSnapshot{{
		Symbol:        symbol,
		Side:          pos.side,
		Size:          pos.size,
		EntryPrice:    pos.entryPrice,
		CurrentPrice:  snapshot.Price,
		UnrealisedPnL: pnl,
		Leverage:      pos.leverage,
		Timestamp:     pos.openedAt,
	}}, nil
}

func (v *SimulateVenue) Balance(ctx context.Context) (domain.Balance, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	used := decimal.Zero
	for _, pos := range v.position {
		used = used.Add(pos.entryPrice.Mul(pos.size).Div(decimal.NewFromInt(int64(max(pos.leverage, 1)))))
	}
	return domain.Balance{Total: v.wallet, Available: v.wallet.Sub(used), UsedMargin: used}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (v *SimulateVenue) UpdateStopLoss(ctx context.Context, symbol string, sl, tp decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.position[symbol]
	if !ok {
		return nil
	}
	pos.sl, pos.tp = sl, tp
	return nil
}

func (v *SimulateVenue) Close(ctx context.Context, symbol string, side domain.Side, pct int) (domain.OrderResult, error) {
	v.mu.Lock()
	pos, ok := v.position[symbol]
	if !ok {
		v.mu.Unlock()
		return domain.OrderResult{}, errors.Errorf("no simulated position on %s", symbol)
	}
	closeQty := pos.size.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100))
	v.mu.Unlock()

	if closeQty.LessThanOrEqual(decimal.Zero) {
		return domain.OrderResult{}, errors.New("rounded close quantity is zero")
	}
	return v.SubmitOrder(ctx, symbol, side.Opposite(), closeQty, pos.leverage, decimal.Zero, decimal.Zero)
}

func (v *SimulateVenue) OrderHistory(ctx context.Context, symbol string, n int) ([]domain.OrderHistoryEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := v.history[symbol]
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]domain.OrderHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
