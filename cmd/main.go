// Command kalmann runs the autonomous Kalman-filter-assisted crypto
// trading engine: it ingests live candles, scores them with a technical
// indicator suite, a Kalman price predictor and an LLM reasoning pass,
// and executes risk-gated entries/exits against a configurable venue.
//
// Usage:
//
//	kalmann --config config.yaml
//	kalmann --symbol BTCUSDT --venue bybit
//
// Required environment variables (venue-dependent):
//
//	bybit:       BYBIT_API_KEY, BYBIT_API_SECRET
//	binance:     BINANCE_API_KEY, BINANCE_API_SECRET
//	hyperliquid: HYPERLIQUID_PRIVATE_KEY
//	reasoning:   LLM_API_KEY (required when auto_trading is enabled)
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/ethereum/go-ethereum/crypto"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"

	"github.com/n3-n2-n1/kalmann/internal/config"
	"github.com/n3-n2-n1/kalmann/internal/events"
	"github.com/n3-n2-n1/kalmann/internal/history"
	"github.com/n3-n2-n1/kalmann/internal/metrics"
	"github.com/n3-n2-n1/kalmann/internal/orchestrator"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/risk"
	"github.com/n3-n2-n1/kalmann/internal/toolserver"
	"github.com/n3-n2-n1/kalmann/internal/venue"
	"github.com/n3-n2-n1/kalmann/internal/web"
)

var webAddrFlag = flag.String("web-addr", ":8090", "address for the read-only dashboard (disable with empty string)")

func main() {
	zapCfg := zap.NewProductionConfig()
	zapCfg.DisableStacktrace = true
	logger := zap.Must(zapCfg.Build())
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := config.Get()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if lvl, lerr := zap.ParseAtomicLevel(cfg.LogLevel); lerr == nil {
		zapCfg.Level = lvl
	}

	v, err := buildVenue(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build venue adapter", zap.Error(err))
	}

	reasoningClient, err := reasoning.NewOpenAICompatibleClient(
		cfg.ReasoningAPIURL, cfg.ReasoningAPIKey, cfg.ReasoningModel, cfg.ReasoningProxy)
	if err != nil {
		logger.Fatal("failed to build reasoning client", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	historyStore, err := history.NewStore(cfg.WALDir, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to open history store", zap.Error(err))
	}

	riskGate := risk.New(risk.Limits{
		MaxDailyTrades:  cfg.MaxDailyTrades,
		MaxLeverage:     cfg.MaxLeverage,
		MaxPositionSize: cfg.MaxPositionSize,
		StopLossPct:     cfg.StopLossPct,
	})

	metricsCollector := metrics.New(cfg.Symbol)
	metricsServer := metrics.NewServer(cfg.MetricsServerAddr, logger)
	metricsServer.Start()

	orch := orchestrator.New(orchestrator.Config{
		Symbol:         cfg.Symbol,
		Interval:       cfg.Interval,
		MaxLeverageCap: cfg.MaxLeverage,
		AutoTrading:    cfg.AutoTrading,
	}, v, reasoningClient, historyStore, riskGate, logger, metricsCollector).
		WithBroadcasters(events.DefaultTickBroadcaster, events.DefaultTradeBroadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}

	var tools *toolserver.Server
	if cfg.ToolsServerAddr != "" {
		tools = toolserver.New(cfg.ToolsServerAddr, v, reasoningClient, logger)
		tools.Start()
		logger.Info("tools server listening", zap.String("addr", cfg.ToolsServerAddr))
	}

	if *webAddrFlag != "" {
		dashboard := web.NewServer(*webAddrFlag, events.DefaultTickBroadcaster, events.DefaultTradeBroadcaster)
		go func() {
			logger.Info("dashboard listening", zap.String("addr", *webAddrFlag))
			if err := dashboard.Start(ctx); err != nil {
				logger.Error("dashboard server exited", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()

	// Shutdown order mirrors startup: stop the control loop first so no
	// new trade decisions land on a venue/history that is about to close.
	orch.Stop()
	if tools != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = tools.Stop(stopCtx)
		stopCancel()
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = metricsServer.Stop(stopCtx)
	stopCancel()

	logger.Info("engine shut down gracefully")
}

func buildVenue(cfg config.Config, logger *zap.Logger) (venue.Venue, error) {
	var live venue.Venue
	var err error

	switch cfg.Venue {
	case "binance":
		client := binance.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret)
		live, err = venue.NewProvider(client, logger)
	case "bybit":
		client := bybit.NewClient().WithAuth(cfg.BybitAPIKey, cfg.BybitAPISecret)
		live, err = venue.NewProvider(client, logger)
	case "hyperliquid":
		handle, herr := buildHyperliquidHandle(cfg.HyperliquidPrivKey)
		if herr != nil {
			return nil, herr
		}
		live, err = venue.NewProvider(handle, logger)
	case "simulate":
		logger.Info("venue=simulate: no real trades will be executed")
		client := binance.NewClient("", "")
		source, perr := venue.NewProvider(client, logger)
		if perr != nil {
			return nil, perr
		}
		return venue.NewSimulated(source, logger), nil
	default:
		return nil, errUnsupportedVenue(cfg.Venue)
	}
	if err != nil {
		return nil, err
	}
	if cfg.PaperTrading && cfg.Venue != "simulate" {
		return venue.NewSimulated(live, logger), nil
	}
	return live, nil
}

func errUnsupportedVenue(v string) error {
	return errors.Errorf("unsupported venue: %s", v)
}

var errHyperliquidPubkey = errors.New("error casting public key to ECDSA")

func buildHyperliquidHandle(privateKeyHex string) (any, error) {
	key := privateKeyHex
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, err
	}
	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errHyperliquidPubkey
	}
	accountAddr := crypto.PubkeyToAddress(*pub).Hex()
	ex := hyperliquid.NewExchange(context.Background(), privateKey, "", nil, "", accountAddr, nil)
	return venue.NewHyperliquidClientHandle(ex, accountAddr), nil
}
