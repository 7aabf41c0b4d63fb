package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_RejectsMissingSymbol(t *testing.T) {
	err := validate(Config{Venue: "simulate"})
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownVenue(t *testing.T) {
	err := validate(Config{Symbol: "BTCUSDT", Venue: "coinbase"})
	assert.Error(t, err)
}

func TestValidate_RejectsBybitWithoutCredentials(t *testing.T) {
	err := validate(Config{Symbol: "BTCUSDT", Venue: "bybit"})
	assert.Error(t, err)
}

func TestValidate_AcceptsSimulateWithoutCredentials(t *testing.T) {
	err := validate(Config{Symbol: "BTCUSDT", Venue: "simulate"})
	assert.NoError(t, err)
}

func TestValidate_RejectsAutoTradingWithoutReasoningKey(t *testing.T) {
	err := validate(Config{Symbol: "BTCUSDT", Venue: "simulate", AutoTrading: true})
	assert.Error(t, err)
}

func TestParseConfig_DefaultsFillWhenFieldsOmitted(t *testing.T) {
	cfg, err := parseConfig(ConfigTmp{Symbol: "ETHUSDT", Venue: "simulate"})
	assert.NoError(t, err)
	assert.Equal(t, "3m", cfg.Interval)
	assert.Equal(t, 20, cfg.MaxLeverage)
	assert.Equal(t, ":9090", cfg.ToolsServerAddr)
	assert.Equal(t, ":9091", cfg.MetricsServerAddr)
	assert.True(t, cfg.PaperTrading)
}

func TestParseConfig_RejectsBadNumericField(t *testing.T) {
	_, err := parseConfig(ConfigTmp{Symbol: "ETHUSDT", Venue: "simulate", MaxLeverageStr: "not-a-number"})
	assert.Error(t, err)
}
