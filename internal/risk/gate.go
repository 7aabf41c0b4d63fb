// Package risk implements the risk gate (C6): the single validate(proposal)
// checkpoint every new-entry proposal must clear before it reaches the venue
// adapter. Checks short-circuit on the first hard failure and accumulate a
// risk score for the soft ones.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	maxNotionalFraction = 0.30 // §4.6 step 3: notional > 0.30*balance triggers adjustment
	slToleranceFactor   = 1.05 // §4.6 step 6: stop-loss distance tolerance
	riskScoreCeiling    = 0.8  // §4.6 step 7
)

// Limits bundles the configured risk caps the gate validates against.
type Limits struct {
	MaxDailyTrades  int
	MaxLeverage     int
	MaxPositionSize decimal.Decimal
	StopLossPct     decimal.Decimal // configured SL distance, e.g. 0.006 for 0.6%
}

// Gate is C6. It owns the daily trade counter and its own mutex, per the
// spec's shared-resource model (§5): no other component touches it directly.
type Gate struct {
	limits Limits

	mu          sync.Mutex
	dailyDate   string
	dailyTrades int
}

// New constructs a Gate with the given limits. The daily counter starts at
// zero and is lazily reset the first time validate observes a new calendar day.
func New(limits Limits) *Gate {
	return &Gate{limits: limits, dailyDate: today()}
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// resetIfNewDayLocked implements I5: the daily counter resets on local
// calendar-date change. Caller must hold mu.
func (g *Gate) resetIfNewDayLocked() {
	d := today()
	if d != g.dailyDate {
		g.dailyDate = d
		g.dailyTrades = 0
	}
}

// DailyTrades reports the number of confirmed opens since local midnight.
func (g *Gate) DailyTrades() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDayLocked()
	return g.dailyTrades
}

// IncrementDaily is called by the orchestrator after a confirmed open.
func (g *Gate) IncrementDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDayLocked()
	g.dailyTrades++
}

// Inputs bundles the account-state context validate needs beyond the
// proposal itself, since the gate has no transport of its own (C7 is a leaf
// the orchestrator queries; the gate is a pure function of these inputs).
type Inputs struct {
	CurrentPrice     decimal.Decimal
	TotalBalance     decimal.Decimal
	ExistingExposure decimal.Decimal // notional already committed on other positions
	Volatility       float64         // annualised volatility, 0..~a few, clipped below
	StepSize         decimal.Decimal // instrument quantity step, for flooring an adjusted qty
}

// Validate runs the seven-step check in order, short-circuiting on the
// first hard rejection and otherwise accumulating a risk score.
func (g *Gate) Validate(proposal domain.TradeProposal, in Inputs) domain.RiskVerdict {
	g.mu.Lock()
	g.resetIfNewDayLocked()
	dailyTrades := g.dailyTrades
	maxDaily := g.limits.MaxDailyTrades
	g.mu.Unlock()

	// 1. Daily trade cap.
	if maxDaily > 0 && dailyTrades >= maxDaily {
		return domain.RiskVerdict{Approved: false, Reason: "daily trade limit reached"}
	}

	// 2. Quantity sanity.
	if proposal.Quantity.IsZero() || proposal.Quantity.IsNegative() {
		return domain.RiskVerdict{Approved: false, Reason: "quantity must be positive"}
	}

	// 3. Notional-vs-balance sizing; over-limit proposals are adjusted down
	// rather than rejected outright, so the orchestrator can retry once.
	notional := domain.NotionalOf(proposal.Quantity, in.CurrentPrice)
	maxNotional := in.TotalBalance.Mul(decimal.NewFromFloat(maxNotionalFraction))
	if notional.GreaterThan(maxNotional) {
		if in.CurrentPrice.IsZero() {
			return domain.RiskVerdict{Approved: false, Reason: "current price is zero, cannot size adjustment"}
		}
		adjustedQty := maxNotional.Div(in.CurrentPrice)
		if in.StepSize.GreaterThan(decimal.Zero) {
			adjustedQty = adjustedQty.Div(in.StepSize).Floor().Mul(in.StepSize)
		}
		adjusted := proposal.WithQuantity(adjustedQty)
		return domain.RiskVerdict{
			Approved: false,
			Reason:   "notional exceeds 30% of balance, quantity adjusted",
			Adjusted: &adjusted,
		}
	}

	// 4. Leverage cap.
	if g.limits.MaxLeverage > 0 && proposal.Leverage > g.limits.MaxLeverage {
		return domain.RiskVerdict{Approved: false, Reason: "leverage exceeds configured cap"}
	}

	// 5. Aggregate position size cap.
	if !g.limits.MaxPositionSize.IsZero() {
		totalExposure := notional.Add(in.ExistingExposure)
		if totalExposure.GreaterThan(g.limits.MaxPositionSize) {
			return domain.RiskVerdict{Approved: false, Reason: "aggregate exposure exceeds max position size"}
		}
	}

	// 6. Stop-loss distance.
	if !proposal.StopLoss.IsZero() && !g.limits.StopLossPct.IsZero() {
		slDistance := in.CurrentPrice.Sub(proposal.StopLoss).Abs().Div(in.CurrentPrice)
		tolerance := g.limits.StopLossPct.Mul(decimal.NewFromFloat(slToleranceFactor))
		if slDistance.GreaterThan(tolerance) {
			return domain.RiskVerdict{Approved: false, Reason: "stop-loss distance exceeds configured tolerance"}
		}
	}

	// 7. Weighted risk score; reject if it crosses the ceiling even though
	// every hard check passed.
	score := riskScore(proposal, in, notional, g.limits)
	if score > riskScoreCeiling {
		return domain.RiskVerdict{Approved: false, Reason: "composite risk score too high", RiskScore: score}
	}

	return domain.RiskVerdict{Approved: true, RiskScore: score}
}

// riskScore computes the weighted sum from §4.6 step 7, clipping each
// sub-term to [0,1] before weighting so an outlier input cannot blow past
// the final [0,1] envelope the testable properties require.
func riskScore(proposal domain.TradeProposal, in Inputs, notional decimal.Decimal, limits Limits) float64 {
	leverageTerm := 0.0
	if limits.MaxLeverage > 0 {
		leverageTerm = clip01(float64(proposal.Leverage) / float64(limits.MaxLeverage))
	}

	notionalTerm := 0.0
	if !in.TotalBalance.IsZero() {
		n, _ := notional.Div(in.TotalBalance).Float64()
		notionalTerm = clip01(n)
	}

	exposureTerm := 0.0
	if !in.TotalBalance.IsZero() {
		e, _ := in.ExistingExposure.Div(in.TotalBalance).Float64()
		exposureTerm = clip01(e)
	}

	volatilityTerm := clip01(in.Volatility)

	return leverageTerm*0.3 + notionalTerm*0.2 + exposureTerm*0.2 + volatilityTerm*0.3
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
