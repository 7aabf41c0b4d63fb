package venue

import (
	"context"
	"fmt"
	"sort"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// BinanceVenue binds Venue to Binance cross-margin trading. Binance has no
// per-position leverage knob like a linear-perpetual exchange; exposure is
// instead a function of the account's margin level, so SetLeverage is a
// best-effort no-op here (kept to satisfy the interface and logged by the
// caller, mirroring the allow-listed-warning pattern used by the other bindings).
type BinanceVenue struct {
	client *binance.Client
}

func NewBinanceVenue(client *binance.Client) *BinanceVenue {
	return &BinanceVenue{client: client}
}

func (v *BinanceVenue) MarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	stats, err := v.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.MarketSnapshot{}, errors.Wrap(err, "failed to fetch binance 24h stats")
	}
	if len(stats) == 0 {
		return domain.MarketSnapshot{}, errors.Errorf("binance returned no stats for %s", symbol)
	}
	s := stats[0]

	book, err := v.client.NewBookTickerService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.MarketSnapshot{}, errors.Wrap(err, "failed to fetch binance book ticker")
	}
	var bid, ask decimal.Decimal
	if len(book) > 0 {
		bid = binDecimal(book[0].BidPrice)
		ask = binDecimal(book[0].AskPrice)
	}

	return domain.MarketSnapshot{
		Price:        binDecimal(s.LastPrice),
		Bid:          bid,
		Ask:          ask,
		Volume24h:    binDecimal(s.Volume),
		Change24hPct: binDecimal(s.PriceChangePercent),
		High24h:      binDecimal(s.HighPrice),
		Low24h:       binDecimal(s.LowPrice),
		Timestamp:    time.Now(),
	}, nil
}

func (v *BinanceVenue) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	klines, err := v.client.NewKlinesService().
		Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch binance klines")
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, domain.Candle{
			OpenTime:  time.Unix(0, k.OpenTime*int64(time.Millisecond)),
			CloseTime: time.Unix(0, k.CloseTime*int64(time.Millisecond)),
			Open:      binDecimal(k.Open),
			High:      binDecimal(k.High),
			Low:       binDecimal(k.Low),
			Close:     binDecimal(k.Close),
			Volume:    binDecimal(k.Volume),
		})
	}
	return candles, nil
}

func (v *BinanceVenue) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	res, err := v.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return domain.OrderBook{}, errors.Wrap(err, "failed to fetch binance depth")
	}

	out := domain.OrderBook{}
	for _, b := range res.Bids {
		out.Bids = append(out.Bids, domain.OrderBookLevel{Price: binDecimal(b.Price), Qty: binDecimal(b.Quantity)})
	}
	for _, a := range res.Asks {
		out.Asks = append(out.Asks, domain.OrderBookLevel{Price: binDecimal(a.Price), Qty: binDecimal(a.Quantity)})
	}
	return out, nil
}

func (v *BinanceVenue) SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, leverage int, sl, tp decimal.Decimal) (domain.OrderResult, error) {
	clientID := fmt.Sprintf("kalmann-%d", time.Now().UnixNano())
	bSide := binance.SideTypeBuy
	if side == domain.SideSell {
		bSide = binance.SideTypeSell
	}

	order, err := v.client.NewCreateMarginOrderService().
		Symbol(symbol).Side(bSide).Type(binance.OrderTypeMarket).
		Quantity(qty.RoundFloor(4).String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to submit binance margin order")
	}

	avgPrice := weightedAvgFillPrice(order.Fills)
	return domain.OrderResult{OrderID: clientID, AvgPrice: avgPrice}, nil
}

func weightedAvgFillPrice(fills []*binance.Fill) decimal.Decimal {
	if len(fills) == 0 {
		return decimal.Zero
	}
	totalQty, totalCost := decimal.Zero, decimal.Zero
	for _, f := range fills {
		qty := binDecimal(f.Quantity)
		price := binDecimal(f.Price)
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(qty.Mul(price))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalQty)
}

// SetLeverage is a no-op for cross-margin: Binance exposes no per-symbol
// leverage parameter here, only account-level margin level.
func (v *BinanceVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (v *BinanceVenue) Positions(ctx context.Context, symbol string) ([]domain.PositionSnapshot, error) {
	trades, err := v.client.NewListMarginTradesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list binance margin trades")
	}
	if len(trades) == 0 {
		return nil, nil
	}

	sort.Slice(trades, func(i, j int) bool { return trades[i].Time < trades[j].Time })

	totalQty, totalCost := decimal.Zero, decimal.Zero
	var entryTime time.Time
	for _, trade := range trades {
		qty := binDecimal(trade.Quantity)
		price := binDecimal(trade.Price)
		if !trade.IsBuyer {
			qty = qty.Neg()
		}
		if totalQty.IsZero() {
			entryTime = time.UnixMilli(trade.Time)
		}
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(qty.Mul(price))
	}
	if totalQty.IsZero() {
		return nil, nil
	}

	side := domain.SideBuy
	size := totalQty
	if totalQty.IsNegative() {
		side = domain.SideSell
		size = totalQty.Neg()
	}
	entryPrice := totalCost.Div(totalQty).Abs()

	snapshot, err := v.MarketData(ctx, symbol)
	if err != nil {
		return nil, err
	}

	pnl := snapshot.Price.Sub(entryPrice).Mul(size)
	if side == domain.SideSell {
		pnl = entryPrice.Sub(snapshot.Price).Mul(size)
	}

	return []domain.PositionSnapshot{{
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entryPrice,
		CurrentPrice:  snapshot.Price,
		UnrealisedPnL: pnl,
		Leverage:      1,
		Timestamp:     entryTime,
	}}, nil
}

func (v *BinanceVenue) Balance(ctx context.Context) (domain.Balance, error) {
	account, err := v.client.NewGetMarginAccountService().Do(ctx)
	if err != nil {
		return domain.Balance{}, errors.Wrap(err, "failed to fetch binance margin account")
	}

	total := binDecimal(account.NetAssetOfBtc)
	used := decimal.Zero
	for _, asset := range account.UserAssets {
		used = used.Add(binDecimal(asset.Borrowed))
	}
	available := total.Sub(used)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return domain.Balance{Total: total, Available: available, UsedMargin: used}, nil
}

func (v *BinanceVenue) UpdateStopLoss(ctx context.Context, symbol string, sl, tp decimal.Decimal) error {
	positions, err := v.Positions(ctx, symbol)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	pos := positions[0]
	closeSide := binance.SideTypeSell
	if pos.Side == domain.SideSell {
		closeSide = binance.SideTypeBuy
	}

	if sl.GreaterThan(decimal.Zero) {
		_, err := v.client.NewCreateMarginOrderService().
			Symbol(symbol).Side(closeSide).Type(binance.OrderTypeStopLoss).
			Quantity(pos.Size.RoundFloor(4).String()).
			StopPrice(sl.String()).
			NewClientOrderID(fmt.Sprintf("kalmann-sl-%d", time.Now().UnixNano())).
			Do(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to set binance stop loss")
		}
	}
	if tp.GreaterThan(decimal.Zero) {
		_, err := v.client.NewCreateMarginOrderService().
			Symbol(symbol).Side(closeSide).Type(binance.OrderTypeTakeProfit).
			Quantity(pos.Size.RoundFloor(4).String()).
			StopPrice(tp.String()).
			NewClientOrderID(fmt.Sprintf("kalmann-tp-%d", time.Now().UnixNano())).
			Do(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to set binance take profit")
		}
	}
	return nil
}

func (v *BinanceVenue) Close(ctx context.Context, symbol string, side domain.Side, pct int) (domain.OrderResult, error) {
	positions, err := v.Positions(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if len(positions) == 0 {
		return domain.OrderResult{}, errors.Errorf("no open binance margin position on %s", symbol)
	}
	pos := positions[0]
	qty := pos.Size.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).RoundFloor(4)
	if qty.LessThanOrEqual(decimal.Zero) {
		return domain.OrderResult{}, errors.New("rounded close quantity is zero")
	}

	closeSide := binance.SideTypeSell
	if pos.Side == domain.SideSell {
		closeSide = binance.SideTypeBuy
	}
	clientID := fmt.Sprintf("kalmann-close-%d", time.Now().UnixNano())

	order, err := v.client.NewCreateMarginOrderService().
		Symbol(symbol).Side(closeSide).Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		SideEffectType(binance.SideEffectTypeAutoRepay).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to close binance margin position")
	}

	return domain.OrderResult{OrderID: clientID, AvgPrice: weightedAvgFillPrice(order.Fills)}, nil
}

func (v *BinanceVenue) OrderHistory(ctx context.Context, symbol string, n int) ([]domain.OrderHistoryEntry, error) {
	orders, err := v.client.NewListMarginOrdersService().Symbol(symbol).Limit(n).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch binance margin order history")
	}

	out := make([]domain.OrderHistoryEntry, 0, len(orders))
	for _, o := range orders {
		if o.Status != binance.OrderStatusTypeFilled {
			continue
		}
		side := domain.SideBuy
		if o.Side == binance.SideTypeSell {
			side = domain.SideSell
		}
		out = append(out, domain.OrderHistoryEntry{
			OrderID:  fmt.Sprintf("%d", o.OrderID),
			Symbol:   symbol,
			Side:     side,
			Type:     classifyBinanceOrderType(o.Type),
			Price:    binDecimal(o.Price),
			Qty:      binDecimal(o.ExecutedQuantity),
			Time:     time.UnixMilli(o.Time),
			ClientID: o.ClientOrderID,
		})
	}
	return out, nil
}

func classifyBinanceOrderType(t binance.OrderType) string {
	switch t {
	case binance.OrderTypeTakeProfit, binance.OrderTypeTakeProfitLimit:
		return "TAKE_PROFIT"
	case binance.OrderTypeStopLoss, binance.OrderTypeStopLossLimit:
		return "STOP_LOSS"
	default:
		return "MARKET"
	}
}

func (v *BinanceVenue) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	info, err := v.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Instrument{}, errors.Wrap(err, "failed to fetch binance exchange info")
	}
	if len(info.Symbols) == 0 {
		return domain.Instrument{}, errors.Errorf("binance has no symbol info for %s", symbol)
	}
	s := info.Symbols[0]

	inst := domain.Instrument{Symbol: symbol, Base: s.BaseAsset, Quote: s.QuoteAsset}
	if f := s.LotSizeFilter(); f != nil {
		inst.StepSize = binDecimal(f.StepSize)
		inst.MinQty = binDecimal(f.MinQuantity)
	}
	if f := s.PriceFilter(); f != nil {
		inst.TickSize = binDecimal(f.TickSize)
	}
	return inst, nil
}

func (v *BinanceVenue) Health(ctx context.Context) bool {
	_, err := v.client.NewPingService().Do(ctx)
	return err == nil
}

func binDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
