package candle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// stubVenue implements venue.Venue with panics on every method but Candles,
// so fakeVenue only has to override what a given test actually exercises.
type stubVenue struct{}

func (stubVenue) MarketData(context.Context, string) (domain.MarketSnapshot, error) {
	panic("not implemented in test stub")
}
func (stubVenue) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	panic("not implemented in test stub")
}
func (stubVenue) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	panic("not implemented in test stub")
}
func (stubVenue) SubmitOrder(context.Context, string, domain.Side, decimal.Decimal, int, decimal.Decimal, decimal.Decimal) (domain.OrderResult, error) {
	panic("not implemented in test stub")
}
func (stubVenue) SetLeverage(context.Context, string, int) error {
	panic("not implemented in test stub")
}
func (stubVenue) Positions(context.Context, string) ([]domain.PositionSnapshot, error) {
	panic("not implemented in test stub")
}
func (stubVenue) Balance(context.Context) (domain.Balance, error) {
	panic("not implemented in test stub")
}
func (stubVenue) UpdateStopLoss(context.Context, string, decimal.Decimal, decimal.Decimal) error {
	panic("not implemented in test stub")
}
func (stubVenue) Close(context.Context, string, domain.Side, int) (domain.OrderResult, error) {
	panic("not implemented in test stub")
}
func (stubVenue) OrderHistory(context.Context, string, int) ([]domain.OrderHistoryEntry, error) {
	panic("not implemented in test stub")
}
func (stubVenue) Instrument(context.Context, string) (domain.Instrument, error) {
	panic("not implemented in test stub")
}
func (stubVenue) Health(context.Context) bool {
	panic("not implemented in test stub")
}
