// Package candle implements the bounded, de-duplicated sliding window of
// OHLCV candles that every downstream analysis component reads from.
package candle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/venue"
)

// DefaultCap is the nominal window size backfilled on start.
const DefaultCap = 200

// refreshFetchCount is how many of the most recent candles are re-fetched on
// every periodic refresh, per the donor's tail-refresh style polling.
const refreshFetchCount = 5

// Stats reports buffer health for health-checks and logging.
type Stats struct {
	Count      int
	FirstClose float64
	LastClose  float64
	FirstTime  time.Time
	LastTime   time.Time
}

// Buffer is a single-instrument candle window owned by one symbol/interval
// pair. It is safe for concurrent use: the refresh goroutine writes while
// the strategy loop reads.
type Buffer struct {
	mu       sync.RWMutex
	symbol   string
	interval string
	cap      int
	candles  []domain.Candle

	v      venue.Venue
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an unseeded buffer; call Start to backfill and begin refreshing.
func New(v venue.Venue, symbol, interval string, logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{v: v, symbol: symbol, interval: interval, cap: DefaultCap, logger: logger}
}

// Start performs a single backfill of DefaultCap candles, then schedules a
// periodic refresh at the candle interval. Backfill failure is fatal.
func (b *Buffer) Start(ctx context.Context) error {
	candles, err := b.v.Candles(ctx, b.symbol, b.interval, b.cap)
	if err != nil {
		return errors.Wrapf(err, "candle buffer backfill failed for %s/%s", b.symbol, b.interval)
	}

	b.mu.Lock()
	b.candles = dedupeAndTrim(candles, b.cap)
	b.mu.Unlock()

	period, err := Period(b.interval)
	if err != nil {
		return errors.Wrap(err, "candle buffer cannot schedule refresh")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.refreshLoop(runCtx, period)

	b.logger.Info("candle buffer started",
		zap.String("symbol", b.symbol), zap.String("interval", b.interval), zap.Int("count", len(b.candles)))
	return nil
}

// Stop cancels the refresh goroutine and waits for it to exit.
func (b *Buffer) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *Buffer) refreshLoop(ctx context.Context, period time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refresh(ctx)
		}
	}
}

// refresh fetches the last few candles and merges them into the window.
// Failures are transient: logged and retried at the next tick, never
// clearing the existing buffer.
func (b *Buffer) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	fresh, err := b.v.Candles(fetchCtx, b.symbol, b.interval, refreshFetchCount)
	if err != nil {
		b.logger.Warn("candle refresh failed, retrying next tick",
			zap.String("symbol", b.symbol), zap.Error(err))
		return
	}

	b.mu.Lock()
	b.candles = dedupeAndTrim(append(b.candles, fresh...), b.cap)
	b.mu.Unlock()
}

// Get returns the last n candles, oldest first.
func (b *Buffer) Get(n int) []domain.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.candles) {
		n = len(b.candles)
	}
	out := make([]domain.Candle, n)
	copy(out, b.candles[len(b.candles)-n:])
	return out
}

// HasEnough reports whether the buffer holds at least min candles.
func (b *Buffer) HasEnough(min int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles) >= min
}

// Stats reports buffer count and boundary samples for health checks.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.candles) == 0 {
		return Stats{}
	}
	first, last := b.candles[0], b.candles[len(b.candles)-1]
	firstClose, _ := first.Close.Float64()
	lastClose, _ := last.Close.Float64()
	return Stats{
		Count:      len(b.candles),
		FirstClose: firstClose,
		LastClose:  lastClose,
		FirstTime:  first.OpenTime,
		LastTime:   last.OpenTime,
	}
}

// dedupeAndTrim keeps the window strictly increasing in OpenTime with no
// duplicates (I3), preferring the newer record when open_time collides
// (the venue may re-emit the still-forming candle with updated close/volume),
// then trims to cap from the front.
func dedupeAndTrim(candles []domain.Candle, cap int) []domain.Candle {
	byOpen := make(map[int64]domain.Candle, len(candles))
	order := make([]int64, 0, len(candles))
	for _, c := range candles {
		key := c.OpenTime.UnixMilli()
		if _, exists := byOpen[key]; !exists {
			order = append(order, key)
		}
		byOpen[key] = c // later (newer) occurrence wins
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]domain.Candle, len(order))
	for i, key := range order {
		out[i] = byOpen[key]
	}
	if len(out) > cap {
		out = out[len(out)-cap:]
	}
	return out
}

// Period maps a candle interval string to its wall-clock duration, used both
// for the refresh scheduler here and by the orchestrator's tick ticker.
func Period(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, errors.Errorf("unsupported candle interval: %s", interval)
	}
}
