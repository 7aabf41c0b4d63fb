package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func TestParseEntryVerdict_ValidJSON(t *testing.T) {
	raw := `Here is my analysis:
{"decision":"BUY","confidence":0.8,"reasoning":"oversold bounce","suggested_leverage":10,"risk_level":"low","market_sentiment":"bullish"}
Thanks!`

	v := ParseEntryVerdict(raw)
	assert.Equal(t, domain.EntryBuy, v.Decision)
	assert.Equal(t, 0.8, v.Confidence)
	assert.Equal(t, 10, v.SuggestedLeverage)
	assert.Equal(t, domain.RiskLow, v.RiskLevel)
	assert.Equal(t, domain.TrendBullish, v.MarketSentiment)
}

func TestParseEntryVerdict_FallsBackOnMalformedJSON(t *testing.T) {
	raw := `{"decision": "BUY", this is not valid json`
	v := ParseEntryVerdict(raw)
	assert.Equal(t, domain.EntryBuy, v.Decision)
	assert.Equal(t, 0.3, v.Confidence)
}

func TestParseEntryVerdict_FallsBackOnNoJSONAtAll(t *testing.T) {
	raw := "I recommend you SELL given the overbought conditions."
	v := ParseEntryVerdict(raw)
	assert.Equal(t, domain.EntrySell, v.Decision)
}

func TestParseEntryVerdict_CoercesOutOfRangeLeverage(t *testing.T) {
	raw := `{"decision":"BUY","confidence":0.5,"suggested_leverage":999,"risk_level":"low"}`
	v := ParseEntryVerdict(raw)
	assert.Equal(t, 5, v.SuggestedLeverage)
}

func TestParseEntryVerdict_CoercesOutOfRangeConfidence(t *testing.T) {
	raw := `{"decision":"HOLD","confidence":5.0}`
	v := ParseEntryVerdict(raw)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestParsePositionVerdict_ValidJSON(t *testing.T) {
	raw := `{"action":"CLOSE_50","confidence":0.6,"reasoning":"momentum fading","risk_level":"medium"}`
	v := ParsePositionVerdict(raw)
	assert.Equal(t, domain.PositionClose50, v.Action)
	assert.Equal(t, 0.6, v.Confidence)
}

func TestParsePositionVerdict_FallsBackToHoldOnMalformed(t *testing.T) {
	v := ParsePositionVerdict("not json at all")
	assert.Equal(t, domain.PositionHold, v.Action)
	assert.Equal(t, 0.1, v.Confidence)
}

func TestExtractJSONObject_FindsBalancedBlockAmongNesting(t *testing.T) {
	raw := `prefix {"a":{"b":1},"c":2} suffix`
	block, ok := extractJSONObject(raw)
	assert.True(t, ok)
	assert.Equal(t, `{"a":{"b":1},"c":2}`, block)
}

func TestExtractJSONObject_NoBraceReturnsFalse(t *testing.T) {
	_, ok := extractJSONObject("no braces here")
	assert.False(t, ok)
}
