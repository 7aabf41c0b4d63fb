// Package config provides configuration management (YAML + CLI flags) for
// the trading engine, following the donor's own config-loading shape: a
// string-typed ConfigTmp parsed from YAML, defaulted and validated field by
// field into a typed Config, with flags able to override the config path
// and server bind addresses.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the orchestrator, venue adapter, reasoning
// client, history store, risk gate, tools server and metrics server need.
type Config struct {
	Symbol   string
	Interval string

	Venue        string // bybit | binance | hyperliquid | simulate
	Testnet      bool
	PaperTrading bool

	BybitAPIKey          string
	BybitAPISecret       string
	BinanceAPIKey        string
	BinanceAPISecret     string
	HyperliquidPrivKey   string

	ReasoningAPIURL string
	ReasoningAPIKey string
	ReasoningModel  string
	ReasoningProxy  string
	ReasoningTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	WALDir        string

	AutoTrading     bool
	MaxLeverage     int
	MaxPositionSize decimal.Decimal
	RiskPct         decimal.Decimal
	StopLossPct     decimal.Decimal
	MaxDailyTrades  int

	ToolsServerAddr   string
	MetricsServerAddr string
	LogLevel          string
}

// ConfigTmp is the YAML-facing intermediate representation: every numeric
// or duration field arrives as a string so the zero value ("") can signal
// "not set" and be defaulted, matching the donor's ConfigTmp convention.
type ConfigTmp struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval,omitempty"`

	Venue        string `yaml:"venue"`
	TestnetStr   string `yaml:"testnet,omitempty"`
	PaperStr     string `yaml:"paper_trading,omitempty"`

	ReasoningAPIURL     string `yaml:"llm_api_url,omitempty"`
	ReasoningModel      string `yaml:"model,omitempty"`
	ReasoningProxy      string `yaml:"llm_proxy_url,omitempty"`
	ReasoningTimeoutStr string `yaml:"llm_timeout,omitempty"`

	RedisAddr     string `yaml:"redis_addr,omitempty"`
	WALDir        string `yaml:"wal_dir,omitempty"`

	AutoTradingStr     string `yaml:"auto_trading,omitempty"`
	MaxLeverageStr     string `yaml:"max_leverage,omitempty"`
	MaxPositionSizeStr string `yaml:"max_position_size,omitempty"`
	RiskPctStr         string `yaml:"risk_pct,omitempty"`
	StopLossPctStr     string `yaml:"stop_loss_pct,omitempty"`
	MaxDailyTradesStr  string `yaml:"max_daily_trades,omitempty"`

	ToolsServerAddr   string `yaml:"tools_server_addr,omitempty"`
	MetricsServerAddr string `yaml:"metrics_server_addr,omitempty"`
	LogLevel          string `yaml:"log_level,omitempty"`
}

var (
	configPathFlag  = flag.String("config", "", "path to yaml config")
	symbolFlag      = flag.String("symbol", "BTCUSDT", "trading symbol")
	intervalFlag    = flag.String("interval", "3m", "candle interval")
	venueFlag       = flag.String("venue", "simulate", "venue: bybit|binance|hyperliquid|simulate")
	toolsAddrFlag   = flag.String("tools-addr", ":9090", "tools server bind address (empty disables it)")
	metricsAddrFlag = flag.String("metrics-addr", ":9091", "metrics server bind address")
)

// Get loads configuration from YAML (if -config is given) or falls back to
// flags + environment variables, mirroring the donor's "YAML overrides CLI"
// precedence.
func Get() (Config, error) {
	flag.Parse()

	if *configPathFlag != "" {
		return getYaml(*configPathFlag)
	}
	return fromFlagsAndEnv()
}

func fromFlagsAndEnv() (Config, error) {
	cfg := Config{
		Symbol:            *symbolFlag,
		Interval:          *intervalFlag,
		Venue:             *venueFlag,
		ToolsServerAddr:   *toolsAddrFlag,
		MetricsServerAddr: *metricsAddrFlag,
		LogLevel:          envOr("LOG_LEVEL", "info"),

		BybitAPIKey:        os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:     os.Getenv("BYBIT_API_SECRET"),
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:   os.Getenv("BINANCE_API_SECRET"),
		HyperliquidPrivKey: os.Getenv("HYPERLIQUID_PRIVATE_KEY"),

		ReasoningAPIURL: envOr("LLM_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		ReasoningAPIKey: os.Getenv("LLM_API_KEY"),
		ReasoningModel:  envOr("LLM_MODEL", "deepseek/deepseek-chat"),
		ReasoningProxy:  os.Getenv("LLM_PROXY_URL"),
		ReasoningTimeout: 60 * time.Second,

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		WALDir:        envOr("WAL_DIR", "./data/wal"),

		AutoTrading:     os.Getenv("AUTO_TRADING") == "true",
		PaperTrading:    os.Getenv("PAPER_TRADING") != "false",
		Testnet:         os.Getenv("TESTNET") == "true",
		MaxLeverage:     20,
		MaxPositionSize: decimal.NewFromInt(50000),
		RiskPct:         decimal.NewFromFloat(10),
		StopLossPct:     decimal.NewFromFloat(0.006),
		MaxDailyTrades:  20,
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config file")
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse yaml config")
	}

	cfg, err := parseConfig(tmp)
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseConfig(c ConfigTmp) (Config, error) {
	cfg := Config{
		Symbol:   c.Symbol,
		Interval: defaultStr(c.Interval, "3m"),
		Venue:    c.Venue,

		BybitAPIKey:        os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:     os.Getenv("BYBIT_API_SECRET"),
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:   os.Getenv("BINANCE_API_SECRET"),
		HyperliquidPrivKey: os.Getenv("HYPERLIQUID_PRIVATE_KEY"),

		ReasoningAPIURL: defaultStr(c.ReasoningAPIURL, "https://openrouter.ai/api/v1/chat/completions"),
		ReasoningAPIKey: os.Getenv("LLM_API_KEY"),
		ReasoningModel:  defaultStr(c.ReasoningModel, "deepseek/deepseek-chat"),
		ReasoningProxy:  c.ReasoningProxy,

		RedisAddr:     defaultStr(c.RedisAddr, "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		WALDir:        defaultStr(c.WALDir, "./data/wal"),

		ToolsServerAddr:   defaultStr(c.ToolsServerAddr, ":9090"),
		MetricsServerAddr: defaultStr(c.MetricsServerAddr, ":9091"),
		LogLevel:          defaultStr(c.LogLevel, "info"),
	}

	var err error
	cfg.Testnet, err = parseBoolDefault(c.TestnetStr, false)
	if err != nil {
		return Config{}, errors.Wrap(err, "incorrect 'testnet' param in yaml config")
	}
	cfg.PaperTrading, err = parseBoolDefault(c.PaperStr, true)
	if err != nil {
		return Config{}, errors.Wrap(err, "incorrect 'paper_trading' param in yaml config")
	}
	cfg.AutoTrading, err = parseBoolDefault(c.AutoTradingStr, false)
	if err != nil {
		return Config{}, errors.Wrap(err, "incorrect 'auto_trading' param in yaml config")
	}

	cfg.ReasoningTimeout = 60 * time.Second
	if c.ReasoningTimeoutStr != "" {
		ms, err := strconv.Atoi(c.ReasoningTimeoutStr)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'llm_timeout' param in yaml config (must be milliseconds)")
		}
		cfg.ReasoningTimeout = time.Duration(ms) * time.Millisecond
	}

	cfg.MaxLeverage = 20
	if c.MaxLeverageStr != "" {
		cfg.MaxLeverage, err = strconv.Atoi(c.MaxLeverageStr)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'max_leverage' param in yaml config")
		}
	}

	cfg.MaxPositionSize = decimal.NewFromInt(50000)
	if c.MaxPositionSizeStr != "" {
		cfg.MaxPositionSize, err = decimal.NewFromString(c.MaxPositionSizeStr)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'max_position_size' param in yaml config")
		}
	}

	cfg.RiskPct = decimal.NewFromFloat(10)
	if c.RiskPctStr != "" {
		cfg.RiskPct, err = decimal.NewFromString(c.RiskPctStr)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'risk_pct' param in yaml config")
		}
	}

	cfg.StopLossPct = decimal.NewFromFloat(0.006)
	if c.StopLossPctStr != "" {
		cfg.StopLossPct, err = decimal.NewFromString(c.StopLossPctStr)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'stop_loss_pct' param in yaml config")
		}
	}

	cfg.MaxDailyTrades = 20
	if c.MaxDailyTradesStr != "" {
		cfg.MaxDailyTrades, err = strconv.Atoi(c.MaxDailyTradesStr)
		if err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'max_daily_trades' param in yaml config")
		}
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("'symbol' is required")
	}
	switch cfg.Venue {
	case "bybit":
		if cfg.BybitAPIKey == "" || cfg.BybitAPISecret == "" {
			return errors.New("BYBIT_API_KEY/BYBIT_API_SECRET are required for venue=bybit")
		}
	case "binance":
		if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
			return errors.New("BINANCE_API_KEY/BINANCE_API_SECRET are required for venue=binance")
		}
	case "hyperliquid":
		if cfg.HyperliquidPrivKey == "" {
			return errors.New("HYPERLIQUID_PRIVATE_KEY is required for venue=hyperliquid")
		}
	case "simulate":
	default:
		return errors.Errorf("unsupported venue: %s (must be bybit, binance, hyperliquid or simulate)", cfg.Venue)
	}
	if cfg.AutoTrading && cfg.ReasoningAPIKey == "" {
		return errors.New("LLM_API_KEY is required when auto_trading is enabled")
	}
	return nil
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolDefault(s string, fallback bool) (bool, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.ParseBool(s)
}
