package reasoning

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// extractJSONObject returns the first balanced {...} block in text, scanning
// for brace depth rather than assuming the reply is pure JSON (models
// routinely wrap JSON in prose or markdown fences).
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

type rawEntryVerdict struct {
	Decision          string  `json:"decision"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
	SuggestedLeverage int     `json:"suggested_leverage"`
	RiskLevel         string  `json:"risk_level"`
	MarketSentiment   string  `json:"market_sentiment"`
}

// ParseEntryVerdict extracts and validates an EntryVerdict from a raw model
// reply, falling back to a scan for BUY/SELL keywords on parse failure, and
// coercing any out-of-range field to a conservative default.
func ParseEntryVerdict(raw string) domain.EntryVerdict {
	block, ok := extractJSONObject(raw)
	if !ok {
		return fallbackEntryVerdict(raw)
	}

	var parsed rawEntryVerdict
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return fallbackEntryVerdict(raw)
	}

	return domain.EntryVerdict{
		Decision:          coerceEntryDecision(parsed.Decision),
		Confidence:        clip01(parsed.Confidence, 0.5),
		Reasoning:         parsed.Reasoning,
		SuggestedLeverage: coerceLeverage(parsed.SuggestedLeverage),
		RiskLevel:         coerceRiskLevel(parsed.RiskLevel),
		MarketSentiment:   coerceTrend(parsed.MarketSentiment),
	}
}

// fallbackEntryVerdict scans raw text case-insensitively for BUY/SELL and
// emits a low-confidence verdict rather than failing the tick.
func fallbackEntryVerdict(raw string) domain.EntryVerdict {
	upper := strings.ToUpper(raw)
	decision := domain.EntryHold
	switch {
	case strings.Contains(upper, "BUY"):
		decision = domain.EntryBuy
	case strings.Contains(upper, "SELL"):
		decision = domain.EntrySell
	}
	return domain.EntryVerdict{
		Decision:          decision,
		Confidence:        0.3,
		Reasoning:         "fallback parse: model reply was not valid JSON",
		SuggestedLeverage: 5,
		RiskLevel:         domain.RiskMedium,
		MarketSentiment:   domain.TrendNeutral,
	}
}

type rawPositionVerdict struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	RiskLevel  string  `json:"risk_level"`
}

// ParsePositionVerdict extracts and validates a PositionVerdict. Unlike
// ParseEntryVerdict it has no keyword fallback: a missing or malformed JSON
// block yields the conservative HOLD verdict; parsed fields are coerced.
func ParsePositionVerdict(raw string) domain.PositionVerdict {
	block, ok := extractJSONObject(raw)
	if !ok {
		return domain.ConservativePositionVerdict("fallback parse: model reply was not valid JSON")
	}

	var parsed rawPositionVerdict
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return domain.ConservativePositionVerdict("fallback parse: malformed JSON in model reply")
	}

	return domain.PositionVerdict{
		Action:     coercePositionAction(parsed.Action),
		Confidence: clip01(parsed.Confidence, 0.5),
		Reasoning:  parsed.Reasoning,
		RiskLevel:  coerceRiskLevel(parsed.RiskLevel),
	}
}

func coerceEntryDecision(s string) domain.EntryDecision {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(domain.EntryBuy):
		return domain.EntryBuy
	case string(domain.EntrySell):
		return domain.EntrySell
	default:
		return domain.EntryHold
	}
}

func coercePositionAction(s string) domain.PositionAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(domain.PositionClose25):
		return domain.PositionClose25
	case string(domain.PositionClose50):
		return domain.PositionClose50
	case string(domain.PositionClose100):
		return domain.PositionClose100
	default:
		return domain.PositionHold
	}
}

func coerceRiskLevel(s string) domain.RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(domain.RiskLow):
		return domain.RiskLow
	case string(domain.RiskHigh):
		return domain.RiskHigh
	default:
		return domain.RiskMedium
	}
}

func coerceTrend(s string) domain.TrendLabel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(domain.TrendBullish):
		return domain.TrendBullish
	case string(domain.TrendBearish):
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}

func coerceLeverage(n int) int {
	if n < 1 || n > 50 {
		return 5
	}
	return n
}

func clip01(x, fallback float64) float64 {
	if x < 0 || x > 1 {
		return fallback
	}
	return x
}

// formatFloat is a small helper kept for prompt assembly's annotated
// thresholds (e.g. "RSI=27.30 (OVERSOLD)").
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
