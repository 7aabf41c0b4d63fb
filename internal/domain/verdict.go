package domain

// EntryDecision is the reasoning engine's top-level call on whether to open a position.
type EntryDecision string

const (
	EntryBuy  EntryDecision = "BUY"
	EntrySell EntryDecision = "SELL"
	EntryHold EntryDecision = "HOLD"
)

// RiskLevel is the reasoning engine's qualitative risk read.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// EntryVerdict is the validated, clipped output of analyse_entry. Conservative
// defaults (HOLD, confidence 0.5, leverage 5, risk medium) are substituted
// whenever the raw reasoning-engine output cannot be trusted.
type EntryVerdict struct {
	Decision          EntryDecision
	Confidence        float64
	Reasoning         string
	SuggestedLeverage int
	RiskLevel         RiskLevel
	MarketSentiment   TrendLabel
}

// ConservativeEntryVerdict is the safe fallback used on timeout, transport
// error, or an unparseable reasoning-engine reply.
func ConservativeEntryVerdict(reasoning string) EntryVerdict {
	return EntryVerdict{
		Decision:          EntryHold,
		Confidence:        0.1,
		Reasoning:         reasoning,
		SuggestedLeverage: 5,
		RiskLevel:         RiskMedium,
		MarketSentiment:   TrendNeutral,
	}
}

// PositionAction is the reasoning engine's management-policy call for an open position.
type PositionAction string

const (
	PositionHold      PositionAction = "HOLD"
	PositionClose25   PositionAction = "CLOSE_25"
	PositionClose50   PositionAction = "CLOSE_50"
	PositionClose100  PositionAction = "CLOSE_100"
)

// ClosePercentage returns the partial-close percentage implied by the action, 0 for HOLD.
func (a PositionAction) ClosePercentage() int {
	switch a {
	case PositionClose25:
		return 25
	case PositionClose50:
		return 50
	case PositionClose100:
		return 100
	default:
		return 0
	}
}

// PositionVerdict is the validated output of analyse_position.
type PositionVerdict struct {
	Action     PositionAction
	Confidence float64
	Reasoning  string
	RiskLevel  RiskLevel
}

// ConservativePositionVerdict is the safe fallback for the position-variant call.
func ConservativePositionVerdict(reasoning string) PositionVerdict {
	return PositionVerdict{
		Action:     PositionHold,
		Confidence: 0.1,
		Reasoning:  reasoning,
		RiskLevel:  RiskMedium,
	}
}
