// Package metrics exposes the engine's Prometheus-compatible metrics
// endpoint (§6): a single process-wide collector initialised at startup and
// stopped at shutdown, fed by the orchestrator's tick loop. There is no
// metrics library in the donor codebase; this enrichment follows
// FOTONPHOTOS-PULSEINTEL's prometheus_metrics.go collector shape.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds every metric family the orchestrator and its components
// report into. It is safe for concurrent use: every field is a Prometheus
// client type, which is internally synchronised.
type Collector struct {
	RealizedPnL   *prometheus.GaugeVec
	UnrealizedPnL *prometheus.GaugeVec
	Balance       prometheus.Gauge

	TradesTotal prometheus.Counter
	TradesWin   prometheus.Counter
	TradesLoss  prometheus.Counter
	WinRate     prometheus.Gauge

	OpenPositions *prometheus.GaugeVec
	PositionPnLPct *prometheus.GaugeVec

	AIConfidence     prometheus.Gauge
	KalmanConfidence prometheus.Gauge
	RSI              prometheus.Gauge
	MACDLine         prometheus.Gauge
	MACDSignal       prometheus.Gauge
	MACDHistogram    prometheus.Gauge

	VenueHealthy     prometheus.Gauge
	ReasoningHealthy prometheus.Gauge
	Errors           *prometheus.CounterVec

	AnalysisDuration  prometheus.Histogram
	ExecutionDuration prometheus.Histogram
}

// New registers every metric family against the default Prometheus registry
// (via promauto) and returns the collector.
func New(symbol string) *Collector {
	labels := prometheus.Labels{"symbol": symbol}
	return &Collector{
		RealizedPnL: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trading", Name: "realized_pnl", Help: "Realised PnL since process start.",
		}, []string{"symbol"}),
		UnrealizedPnL: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trading", Name: "unrealized_pnl", Help: "Unrealised PnL of the open position.",
		}, []string{"symbol"}),
		Balance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "balance_total", Help: "Total account balance.", ConstLabels: labels,
		}),
		TradesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "trading", Name: "trades_total", Help: "Confirmed trade opens.", ConstLabels: labels,
		}),
		TradesWin: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "trading", Name: "trades_win_total", Help: "Trades closed WIN.", ConstLabels: labels,
		}),
		TradesLoss: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "trading", Name: "trades_loss_total", Help: "Trades closed LOSS or LIQUIDATION.", ConstLabels: labels,
		}),
		WinRate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "win_rate", Help: "Global win rate.", ConstLabels: labels,
		}),
		OpenPositions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trading", Name: "open_positions", Help: "1 if a position is open, else 0.",
		}, []string{"symbol"}),
		PositionPnLPct: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trading", Name: "position_pnl_pct", Help: "Open position PnL percent (not leverage-adjusted).",
		}, []string{"symbol"}),
		AIConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "ai_confidence", Help: "Latest reasoning verdict confidence.", ConstLabels: labels,
		}),
		KalmanConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "kalman_confidence", Help: "Latest Kalman prediction confidence.", ConstLabels: labels,
		}),
		RSI: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "rsi", Help: "Latest RSI value.", ConstLabels: labels,
		}),
		MACDLine: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "macd_line", Help: "Latest MACD line value.", ConstLabels: labels,
		}),
		MACDSignal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "macd_signal", Help: "Latest MACD signal value.", ConstLabels: labels,
		}),
		MACDHistogram: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "macd_histogram", Help: "Latest MACD histogram value.", ConstLabels: labels,
		}),
		VenueHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "venue_healthy", Help: "1 if the last venue health probe succeeded.", ConstLabels: labels,
		}),
		ReasoningHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading", Name: "reasoning_healthy", Help: "1 if the last reasoning engine health probe succeeded.", ConstLabels: labels,
		}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading", Name: "errors_total", Help: "Errors by originating component.",
		}, []string{"component"}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading", Name: "analysis_duration_seconds", Help: "Tick analysis step duration.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		ExecutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading", Name: "execution_duration_seconds", Help: "Order submission duration.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Server is the HTTP surface for /metrics and /health.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer wires a Prometheus handler at /metrics and a liveness probe at /health.
func NewServer(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		logger:     logger,
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start begins serving in the background; ListenAndServe errors other than
// http.ErrServerClosed are logged, matching the donor's fire-and-forget
// server goroutine convention.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the metrics server down as part of the orchestrator's
// shutdown sequence (stop loop, stop C1, close C5, close tools server, close
// metrics server).
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
