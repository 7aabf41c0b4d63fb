package venue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// HyperliquidVenue binds Venue to Hyperliquid, whose order submission is
// signed by an EVM wallet key (via go-ethereum's crypto package, upstream in
// the client constructor) rather than an HMAC api-secret pair.
type HyperliquidVenue struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
}

// NewHyperliquidVenue wraps an already-authenticated Hyperliquid exchange handle.
func NewHyperliquidVenue(ex *hyperliquid.Exchange, accountAddr string) *HyperliquidVenue {
	return &HyperliquidVenue{ex: ex, info: ex.Info(), accountAddr: accountAddr}
}

func (v *HyperliquidVenue) cloidFromID(id string) string {
	s := strings.TrimSpace(id)
	if s == "" {
		s = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:16])
}

func (v *HyperliquidVenue) MarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	mids, err := v.info.AllMids(ctx)
	if err != nil {
		return domain.MarketSnapshot{}, errors.Wrap(err, "failed to fetch hyperliquid mids")
	}
	raw, ok := mids[symbol]
	if !ok {
		return domain.MarketSnapshot{}, errors.Errorf("hyperliquid has no mid price for %s", symbol)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.MarketSnapshot{}, errors.Wrap(err, "failed to parse hyperliquid mid price")
	}
	return domain.MarketSnapshot{Price: price, Bid: price, Ask: price, Timestamp: time.Now()}, nil
}

func (v *HyperliquidVenue) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	end := time.Now()
	start := end.Add(-time.Duration(limit) * intervalDuration(interval))
	bars, err := v.info.CandleSnapshot(ctx, symbol, interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch hyperliquid candles")
	}

	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(b.OpenTime),
			Open:     decimalFrom(b.Open),
			High:     decimalFrom(b.High),
			Low:      decimalFrom(b.Low),
			Close:    decimalFrom(b.Close),
			Volume:   decimalFrom(b.Volume),
		})
	}
	return candles, nil
}

func (v *HyperliquidVenue) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	book, err := v.info.L2Book(ctx, symbol)
	if err != nil {
		return domain.OrderBook{}, errors.Wrap(err, "failed to fetch hyperliquid order book")
	}

	out := domain.OrderBook{}
	for i, lvl := range book.Bids {
		if i >= depth {
			break
		}
		out.Bids = append(out.Bids, domain.OrderBookLevel{Price: decimalFrom(lvl.Px), Qty: decimalFrom(lvl.Sz)})
	}
	for i, lvl := range book.Asks {
		if i >= depth {
			break
		}
		out.Asks = append(out.Asks, domain.OrderBookLevel{Price: decimalFrom(lvl.Px), Qty: decimalFrom(lvl.Sz)})
	}
	return out, nil
}

func (v *HyperliquidVenue) SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, leverage int, sl, tp decimal.Decimal) (domain.OrderResult, error) {
	if leverage > 1 {
		if _, err := v.ex.UpdateLeverage(ctx, leverage, symbol, true); err != nil && !AllowListedWarning(err.Error()) {
			return domain.OrderResult{}, errors.Wrap(err, "failed to set hyperliquid leverage")
		}
	}

	isBuy := side == domain.SideBuy
	px, err := v.ex.SlippagePrice(ctx, symbol, isBuy, 0.005, nil)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to compute hyperliquid slippage price")
	}

	size, _ := qty.Round(8).Float64()
	cloid := v.cloidFromID(fmt.Sprintf("kalmann-%d", time.Now().UnixNano()))

	resp, err := v.ex.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin:          symbol,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ReduceOnly:    false,
		ClientOrderID: &cloid,
		OrderType:     hyperliquid.OrderType{Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc}},
	}, nil)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to submit hyperliquid order")
	}

	return domain.OrderResult{OrderID: cloid, AvgPrice: decimal.NewFromFloat(px)}, nil
}

func (v *HyperliquidVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := v.ex.UpdateLeverage(ctx, leverage, symbol, true)
	if err != nil && AllowListedWarning(err.Error()) {
		return nil
	}
	return err
}

func (v *HyperliquidVenue) Positions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	state, err := v.info.UserState(ctx, v.accountAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch hyperliquid user state")
	}

	var out []domain.PositionSnapshot
	for _, ap := range state.AssetPositions {
		if ap.Position.Coin != symbol {
			continue
		}
		size := decimalFrom(ap.Position.Szi)
		if size.IsZero() {
			continue
		}
		side := domain.SideBuy
		if size.IsNegative() {
			side = domain.SideSell
			size = size.Abs()
		}
		out = append(out, domain.PositionSnapshot{
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    decimalFrom(ap.Position.EntryPx),
			UnrealisedPnL: decimalFrom(ap.Position.UnrealizedPnl),
			Leverage:      int(ap.Position.Leverage.Value),
			Timestamp:     time.Now(),
		})
	}
	return out, nil
}

func (v *HyperliquidVenue) Balance(ctx context.Context) (domain.Balance, error) {
	state, err := v.info.UserState(ctx, v.accountAddr)
	if err != nil {
		return domain.Balance{}, errors.Wrap(err, "failed to fetch hyperliquid balance")
	}
	total := decimalFrom(state.MarginSummary.AccountValue)
	used := decimalFrom(state.MarginSummary.TotalMarginUsed)
	available := total.Sub(used)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return domain.Balance{Total: total, Available: available, UsedMargin: used}, nil
}

func (v *HyperliquidVenue) UpdateStopLoss(ctx context.Context, symbol string, sl, tp decimal.Decimal) error {
	positions, err := v.Positions(ctx, symbol)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	pos := positions[0]
	isBuy := pos.Side == domain.SideSell // trigger order closes in the opposite direction

	if sl.GreaterThan(decimal.Zero) {
		slPx, _ := sl.Float64()
		cloid := v.cloidFromID(fmt.Sprintf("kalmann-sl-%d", time.Now().UnixNano()))
		_, err := v.ex.Order(ctx, hyperliquid.CreateOrderRequest{
			Coin: symbol, IsBuy: isBuy, Price: slPx, Size: mustFloat(pos.Size), ReduceOnly: true,
			ClientOrderID: &cloid,
			OrderType:     hyperliquid.OrderType{Trigger: &hyperliquid.TriggerOrderType{TriggerPx: slPx, IsMarket: true, Tpsl: "sl"}},
		}, nil)
		if err != nil {
			return errors.Wrap(err, "failed to set hyperliquid stop loss")
		}
	}
	if tp.GreaterThan(decimal.Zero) {
		tpPx, _ := tp.Float64()
		cloid := v.cloidFromID(fmt.Sprintf("kalmann-tp-%d", time.Now().UnixNano()))
		_, err := v.ex.Order(ctx, hyperliquid.CreateOrderRequest{
			Coin: symbol, IsBuy: isBuy, Price: tpPx, Size: mustFloat(pos.Size), ReduceOnly: true,
			ClientOrderID: &cloid,
			OrderType:     hyperliquid.OrderType{Trigger: &hyperliquid.TriggerOrderType{TriggerPx: tpPx, IsMarket: true, Tpsl: "tp"}},
		}, nil)
		if err != nil {
			return errors.Wrap(err, "failed to set hyperliquid take profit")
		}
	}
	return nil
}

func (v *HyperliquidVenue) Close(ctx context.Context, symbol string, side domain.Side, pct int) (domain.OrderResult, error) {
	positions, err := v.Positions(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if len(positions) == 0 {
		return domain.OrderResult{}, errors.Errorf("no open hyperliquid position on %s", symbol)
	}
	pos := positions[0]
	qty := pos.Size.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100))
	if qty.LessThanOrEqual(decimal.Zero) {
		return domain.OrderResult{}, errors.New("rounded close quantity is zero")
	}

	isBuy := pos.Side == domain.SideSell
	px, err := v.ex.SlippagePrice(ctx, symbol, isBuy, 0.005, nil)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to compute hyperliquid slippage price")
	}
	size, _ := qty.Round(8).Float64()
	cloid := v.cloidFromID(fmt.Sprintf("kalmann-close-%d", time.Now().UnixNano()))

	_, err = v.ex.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin: symbol, IsBuy: isBuy, Price: px, Size: size, ReduceOnly: true,
		ClientOrderID: &cloid,
		OrderType:     hyperliquid.OrderType{Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc}},
	}, nil)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to close hyperliquid position")
	}
	return domain.OrderResult{OrderID: cloid, AvgPrice: decimal.NewFromFloat(px)}, nil
}

func (v *HyperliquidVenue) OrderHistory(ctx context.Context, symbol string, n int) ([]domain.OrderHistoryEntry, error) {
	fills, err := v.info.UserFills(ctx, v.accountAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch hyperliquid fills")
	}

	out := make([]domain.OrderHistoryEntry, 0, n)
	for _, f := range fills {
		if f.Coin != symbol {
			continue
		}
		side := domain.SideBuy
		if !f.Side {
			side = domain.SideSell
		}
		out = append(out, domain.OrderHistoryEntry{
			OrderID: fmt.Sprintf("%d", f.Oid),
			Symbol:  symbol,
			Side:    side,
			Type:    classifyHyperliquidFill(f.Dir),
			Price:   decimalFrom(f.Px),
			Qty:     decimalFrom(f.Sz),
			Time:    time.UnixMilli(f.Time),
		})
		if len(out) >= n {
			break
		}
	}
	return out, nil
}

func classifyHyperliquidFill(dir string) string {
	switch strings.ToLower(dir) {
	case "take profit":
		return "TAKE_PROFIT"
	case "stop loss", "liquidation":
		return "STOP_LOSS"
	default:
		return "MARKET"
	}
}

func (v *HyperliquidVenue) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	meta, err := v.info.Meta(ctx)
	if err != nil {
		return domain.Instrument{}, errors.Wrap(err, "failed to fetch hyperliquid instrument metadata")
	}
	for _, asset := range meta.Universe {
		if asset.Name != symbol {
			continue
		}
		step := decimal.New(1, int32(-asset.SzDecimals))
		return domain.Instrument{
			Symbol:   symbol,
			MinQty:   step,
			StepSize: step,
			TickSize: decimal.New(1, -1),
			Base:     symbol,
			Quote:    "USDC",
		}, nil
	}
	return domain.Instrument{}, errors.Errorf("hyperliquid has no metadata for %s", symbol)
}

func (v *HyperliquidVenue) Health(ctx context.Context) bool {
	_, err := v.info.AllMids(ctx)
	return err == nil
}

func decimalFrom(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func intervalDuration(interval string) time.Duration {
	d, err := toDuration(interval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

func toDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval: %s", interval)
	}
}
