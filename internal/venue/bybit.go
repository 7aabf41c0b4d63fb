package venue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// BybitVenue binds Venue to Bybit's V5 linear-perpetual category, the
// closest existing HMAC/category semantics in the donor pack to this spec's
// "perpetual-futures venue" framing.
type BybitVenue struct {
	client *bybit.Client
}

// NewBybitVenue wraps an authenticated Bybit V5 client.
func NewBybitVenue(client *bybit.Client) *BybitVenue {
	return &BybitVenue{client: client}
}

func (v *BybitVenue) MarketData(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	sym := bybit.SymbolV5(symbol)
	resp, err := v.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return domain.MarketSnapshot{}, errors.Wrap(err, "failed to fetch bybit tickers")
	}
	if len(resp.Result.LinearInverse.List) == 0 {
		return domain.MarketSnapshot{}, errors.Errorf("bybit returned no ticker for %s", symbol)
	}

	t := resp.Result.LinearInverse.List[0]
	price := mustDecimal(t.LastPrice)
	return domain.MarketSnapshot{
		Price:        price,
		Bid:          mustDecimal(t.Bid1Price),
		Ask:          mustDecimal(t.Ask1Price),
		Volume24h:    mustDecimal(t.Volume24h),
		Change24hPct: mustDecimal(t.Price24hPcnt).Mul(decimal.NewFromInt(100)),
		High24h:      mustDecimal(t.HighPrice24h),
		Low24h:       mustDecimal(t.LowPrice24h),
		Timestamp:    time.Now(),
	}, nil
}

func (v *BybitVenue) Candles(_ context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	bybitInterval, err := toBybitInterval(interval)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", interval)
	}

	sym := bybit.SymbolV5(symbol)
	lim := limit
	resp, err := v.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   sym,
		Interval: bybit.Interval(bybitInterval),
		Limit:    &lim,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch bybit klines for %s", symbol)
	}

	items := resp.Result.List
	candles := make([]domain.Candle, len(items))
	// bybit returns newest-first; the buffer contract wants oldest-first.
	for i, k := range items {
		dst := len(items) - 1 - i
		startMs, _ := strconv.ParseInt(k.StartTime, 10, 64)
		candles[dst] = domain.Candle{
			OpenTime: time.UnixMilli(startMs),
			Open:     mustDecimal(k.Open),
			High:     mustDecimal(k.High),
			Low:      mustDecimal(k.Low),
			Close:    mustDecimal(k.Close),
			Volume:   mustDecimal(k.Volume),
		}
	}
	return candles, nil
}

func (v *BybitVenue) OrderBook(_ context.Context, symbol string, depth int) (domain.OrderBook, error) {
	sym := bybit.SymbolV5(symbol)
	lim := depth
	resp, err := v.client.V5().Market().GetOrderbook(bybit.V5GetOrderbookParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   sym,
		Limit:    &lim,
	})
	if err != nil {
		return domain.OrderBook{}, errors.Wrap(err, "failed to fetch bybit order book")
	}

	book := domain.OrderBook{
		Bids: make([]domain.OrderBookLevel, 0, len(resp.Result.Bids)),
		Asks: make([]domain.OrderBookLevel, 0, len(resp.Result.Asks)),
	}
	for _, b := range resp.Result.Bids {
		book.Bids = append(book.Bids, domain.OrderBookLevel{Price: mustDecimal(b.Price), Qty: mustDecimal(b.Size)})
	}
	for _, a := range resp.Result.Asks {
		book.Asks = append(book.Asks, domain.OrderBookLevel{Price: mustDecimal(a.Price), Qty: mustDecimal(a.Size)})
	}
	return book, nil
}

func (v *BybitVenue) SubmitOrder(_ context.Context, symbol string, side domain.Side, qty decimal.Decimal, leverage int, sl, tp decimal.Decimal) (domain.OrderResult, error) {
	bside := bybit.SideBuy
	if side == domain.SideSell {
		bside = bybit.SideSell
	}

	clientOrderID := fmt.Sprintf("kalmann-%d", time.Now().UnixNano())
	param := bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Linear,
		Symbol:      bybit.SymbolV5(symbol),
		Side:        bside,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.String(),
		OrderLinkID: &clientOrderID,
	}
	if sl.GreaterThan(decimal.Zero) {
		s := sl.String()
		param.StopLoss = &s
	}
	if tp.GreaterThan(decimal.Zero) {
		t := tp.String()
		param.TakeProfit = &t
	}

	resp, err := v.client.V5().Order().CreateOrder(param)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to submit bybit order")
	}

	return domain.OrderResult{OrderID: resp.Result.OrderID, AvgPrice: v.fillPrice(symbol, side), Fees: decimal.Zero}, nil
}

// fillPrice looks up the position's AvgPrice right after a market order fills.
// V5CreateOrder doesn't echo back the fill price, so this re-queries position
// info the same way Positions does. Returns decimal.Zero on any lookup
// failure; callers fall back to the last known snapshot price.
func (v *BybitVenue) fillPrice(symbol string, side domain.Side) decimal.Decimal {
	sym := bybit.SymbolV5(symbol)
	resp, err := v.client.V5().Position().GetPositionInfo(bybit.V5GetPositionInfoParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return decimal.Zero
	}
	for _, item := range resp.Result.List {
		itemSide := domain.SideBuy
		if item.Side == bybit.SideSell {
			itemSide = domain.SideSell
		}
		if itemSide == side {
			return mustDecimal(item.AvgPrice)
		}
	}
	return decimal.Zero
}

func (v *BybitVenue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	_, err := v.client.V5().Position().SetLeverage(bybit.V5SetLeverageParam{
		Category:     bybit.CategoryV5Linear,
		Symbol:       bybit.SymbolV5(symbol),
		BuyLeverage:  lev,
		SellLeverage: lev,
	})
	if err != nil {
		if AllowListedWarning(err.Error()) {
			return nil
		}
		return errors.Wrap(err, "failed to set bybit leverage")
	}
	return nil
}

func (v *BybitVenue) Positions(_ context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	sym := bybit.SymbolV5(symbol)
	resp, err := v.client.V5().Position().GetPositionInfo(bybit.V5GetPositionInfoParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch bybit positions")
	}

	var out []domain.PositionSnapshot
	for _, item := range resp.Result.List {
		size := mustDecimal(item.Size)
		if size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		side := domain.SideBuy
		if item.Side == bybit.SideSell {
			side = domain.SideSell
		}
		lev, _ := strconv.Atoi(strings.TrimSpace(item.Leverage))
		out = append(out, domain.PositionSnapshot{
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    mustDecimal(item.AvgPrice),
			CurrentPrice:  mustDecimal(item.MarkPrice),
			UnrealisedPnL: mustDecimal(item.UnrealisedPnl),
			Leverage:      lev,
			Timestamp:     time.Now(),
		})
	}
	return out, nil
}

func (v *BybitVenue) Balance(_ context.Context) (domain.Balance, error) {
	resp, err := v.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5CONTRACT, nil)
	if err != nil {
		return domain.Balance{}, errors.Wrap(err, "failed to fetch bybit balance")
	}
	if len(resp.Result.List) == 0 {
		return domain.Balance{}, nil
	}

	wallet := resp.Result.List[0]
	total := mustDecimal(wallet.TotalEquity)
	available := mustDecimal(wallet.TotalAvailableBalance)
	if available.IsZero() && total.GreaterThan(decimal.Zero) {
		available = total.Mul(decimal.NewFromFloat(0.95))
	}
	used := mustDecimal(wallet.TotalMarginBalance).Sub(available)
	if used.IsNegative() {
		used = decimal.Zero
	}

	return domain.Balance{Total: total, Available: available, UsedMargin: used}, nil
}

func (v *BybitVenue) UpdateStopLoss(_ context.Context, symbol string, sl, tp decimal.Decimal) error {
	if sl.LessThanOrEqual(decimal.Zero) && tp.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	param := bybit.V5SetTradingStopParam{
		Category:    bybit.CategoryV5Linear,
		Symbol:      bybit.SymbolV5(symbol),
		PositionIdx: bybit.PositionIdxOneWay,
	}
	if sl.GreaterThan(decimal.Zero) {
		s := sl.String()
		param.StopLoss = &s
	}
	if tp.GreaterThan(decimal.Zero) {
		t := tp.String()
		param.TakeProfit = &t
	}

	_, err := v.client.V5().Position().SetTradingStop(param)
	if err != nil {
		return errors.Wrap(err, "failed to update bybit stop loss")
	}
	return nil
}

func (v *BybitVenue) Close(ctx context.Context, symbol string, side domain.Side, pct int) (domain.OrderResult, error) {
	if pct <= 0 {
		return domain.OrderResult{}, errors.New("close percentage must be > 0")
	}

	positions, err := v.Positions(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if len(positions) == 0 {
		return domain.OrderResult{}, errors.Errorf("no open bybit position on %s", symbol)
	}
	pos := positions[0]

	instrument, err := v.Instrument(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}

	qty := floorToStep(pos.Size.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)), instrument.StepSize)
	if qty.LessThanOrEqual(decimal.Zero) {
		return domain.OrderResult{}, errors.New("rounded close quantity is zero")
	}

	closeSide := bybit.SideSell
	if pos.Side == domain.SideSell {
		closeSide = bybit.SideBuy
	}
	reduceOnly := true
	clientOrderID := fmt.Sprintf("kalmann-close-%d", time.Now().UnixNano())

	resp, err := v.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Linear,
		Symbol:      bybit.SymbolV5(symbol),
		Side:        closeSide,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.String(),
		OrderLinkID: &clientOrderID,
		ReduceOnly:  &reduceOnly,
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to close bybit position")
	}

	return domain.OrderResult{OrderID: resp.Result.OrderID}, nil
}

func (v *BybitVenue) OrderHistory(_ context.Context, symbol string, n int) ([]domain.OrderHistoryEntry, error) {
	sym := bybit.SymbolV5(symbol)
	lim := n
	resp, err := v.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
		Limit:    &lim,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch bybit order history")
	}

	out := make([]domain.OrderHistoryEntry, 0, len(resp.Result.List))
	for _, o := range resp.Result.List {
		if o.OrderStatus != bybit.OrderStatusFilled {
			continue
		}
		side := domain.SideBuy
		if o.Side == bybit.SideSell {
			side = domain.SideSell
		}
		orderType := "MARKET"
		if o.StopOrderType == "TakeProfit" {
			orderType = "TAKE_PROFIT"
		} else if o.StopOrderType == "StopLoss" {
			orderType = "STOP_LOSS"
		}
		updatedMs, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)

		out = append(out, domain.OrderHistoryEntry{
			OrderID:  o.OrderID,
			Symbol:   symbol,
			Side:     side,
			Type:     orderType,
			Price:    mustDecimal(o.AvgPrice),
			Qty:      mustDecimal(o.CumExecQty),
			Time:     time.UnixMilli(updatedMs),
			ClientID: o.OrderLinkID,
		})
	}
	return out, nil
}

func (v *BybitVenue) Instrument(_ context.Context, symbol string) (domain.Instrument, error) {
	sym := bybit.SymbolV5(symbol)
	resp, err := v.client.V5().Market().GetInstrumentInfo(bybit.V5GetInstrumentInfoParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return domain.Instrument{}, errors.Wrap(err, "failed to fetch bybit instrument info")
	}
	if len(resp.Result.LinearInverse.List) == 0 {
		return domain.Instrument{}, errors.Errorf("bybit has no instrument info for %s", symbol)
	}

	item := resp.Result.LinearInverse.List[0]
	return domain.Instrument{
		Symbol:   symbol,
		MinQty:   mustDecimal(item.LotSizeFilter.MinOrderQty),
		StepSize: mustDecimal(item.LotSizeFilter.QtyStep),
		TickSize: mustDecimal(item.PriceFilter.TickSize),
		Base:     item.BaseCoin,
		Quote:    item.QuoteCoin,
	}, nil
}

func (v *BybitVenue) Health(_ context.Context) bool {
	sym := bybit.SymbolV5("BTCUSDT")
	_, err := v.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	return err == nil
}

func toBybitInterval(interval string) (string, error) {
	switch interval {
	case "1m":
		return "1", nil
	case "3m":
		return "3", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	default:
		return "", fmt.Errorf("unsupported interval: %s", interval)
	}
}

func mustDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// floorToStep rounds qty down to the nearest multiple of step, stripping
// floating-point tails as required by the venue contract.
func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	units := qty.Div(step).Floor()
	return units.Mul(step)
}
