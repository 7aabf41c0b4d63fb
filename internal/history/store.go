// Package history implements the history store adapter (C5): an
// append-and-trim ring of recent trade records plus daily/global counters,
// formatted into a prose block for C4 prompts. Every write first lands in a
// gowal append-only log (the durable audit trail) and updates in-memory
// state that is rebuilt by replaying the WAL on startup; Context reads only
// that in-memory state. Writes are also projected best-effort into
// Redis-shaped keys, which are never read back; when Redis is unreachable
// the projection is skipped so history enrichment never blocks the loop.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	recentCap        = 20
	contextRecentCap = 5
	positionTTL      = 24 * time.Hour
	walSegmentLimit  = 200
	walMaxSegments   = 20
)

// Store is C5's concrete implementation.
type Store struct {
	wal    *gowal.Wal
	redis  *redis.Client
	logger *zap.Logger

	redisAvailable atomic.Bool

	mu      sync.RWMutex
	recent  map[string][]domain.TradeRecord // symbol -> capped, newest last
	current map[string]domain.TradeRecord   // symbol -> open trade
	daily   map[string]domain.DailyStats    // "symbol|date" -> stats
	global  map[string]domain.GlobalStats   // symbol -> stats
}

// NewStore initializes the WAL and probes Redis; Redis unavailability is not
// fatal, matching the spec's "degrades to an in-memory stub" contract.
func NewStore(walDir string, redisClient *redis.Client, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if walDir == "" {
		walDir = "./wal/history"
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              walDir,
		Prefix:           "trade_",
		SegmentThreshold: walSegmentLimit,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init history WAL")
	}

	s := &Store{
		wal:     wal,
		redis:   redisClient,
		logger:  logger,
		recent:  make(map[string][]domain.TradeRecord),
		current: make(map[string]domain.TradeRecord),
		daily:   make(map[string]domain.DailyStats),
		global:  make(map[string]domain.GlobalStats),
	}

	s.probeRedis(context.Background())
	if err := s.replayWAL(); err != nil {
		logger.Warn("history store: WAL replay failed, starting from empty state", zap.Error(err))
	}
	return s, nil
}

func (s *Store) probeRedis(ctx context.Context) {
	if s.redis == nil {
		s.redisAvailable.Store(false)
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.redis.Ping(pingCtx).Err(); err != nil {
		s.redisAvailable.Store(false)
		s.logger.Warn("history store: redis unreachable, degrading to in-memory cache", zap.Error(err))
		return
	}
	s.redisAvailable.Store(true)
}

type walEnvelope struct {
	Kind   string          `json:"kind"` // "open" | "close"
	Symbol string          `json:"symbol"`
	Record domain.TradeRecord `json:"record"`
}

// replayWAL rebuilds the in-memory/Redis projections from the durable log,
// so a restart never loses history even if Redis state was never written.
func (s *Store) replayWAL() error {
	current := s.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		var env walEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		s.applyEnvelope(env)
	}
	return nil
}

func (s *Store) applyEnvelope(env walEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Kind {
	case "open":
		s.current[env.Symbol] = env.Record
		s.recent[env.Symbol] = appendCapped(s.recent[env.Symbol], env.Record, recentCap)
	case "close":
		s.updateRecordLocked(env.Symbol, env.Record)
		delete(s.current, env.Symbol)
		s.incrementCountersLocked(env.Symbol, env.Record)
	}
}

// RecordOpen pushes a PENDING trade envelope and returns its id.
func (s *Store) RecordOpen(ctx context.Context, symbol string, decision domain.TradeRecord) (string, error) {
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	decision.Result = domain.ResultPending

	if err := s.appendWAL(walEnvelope{Kind: "open", Symbol: symbol, Record: decision}); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.current[symbol] = decision
	s.recent[symbol] = appendCapped(s.recent[symbol], decision, recentCap)
	s.mu.Unlock()

	s.projectCurrent(ctx, symbol, decision)
	return decision.ID, nil
}

// RecordClose locates the envelope by trade id, sets its exit and terminal
// result, updates daily/global counters, and deletes the current-position
// descriptor.
func (s *Store) RecordClose(ctx context.Context, symbol, tradeID string, exit domain.TradeExit) error {
	s.mu.Lock()
	records := s.recent[symbol]
	idx := -1
	for i, r := range records {
		if r.ID == tradeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return errors.Errorf("history store: no open trade %s found for %s", tradeID, symbol)
	}

	rec := records[idx]
	rec.Exit = &exit
	rec.Result = domain.ResultFor(exit)
	records[idx] = rec
	s.recent[symbol] = records
	s.mu.Unlock()

	if err := s.appendWAL(walEnvelope{Kind: "close", Symbol: symbol, Record: rec}); err != nil {
		return err
	}

	s.mu.Lock()
	s.incrementCountersLocked(symbol, rec)
	delete(s.current, symbol)
	s.mu.Unlock()

	s.projectClose(ctx, symbol, rec)
	return nil
}

func (s *Store) updateRecordLocked(symbol string, updated domain.TradeRecord) {
	records := s.recent[symbol]
	for i, r := range records {
		if r.ID == updated.ID {
			records[i] = updated
			s.recent[symbol] = records
			return
		}
	}
}

func (s *Store) incrementCountersLocked(symbol string, rec domain.TradeRecord) {
	if rec.Exit == nil {
		return
	}
	date := rec.Exit.Time.Format("2006-01-02")
	dailyKey := symbol + "|" + date

	daily := s.daily[dailyKey]
	daily.Date = date
	global := s.global[symbol]

	daily.Trades++
	global.Trades++
	daily.RealizedPnL += rec.Exit.PnL
	global.RealizedPnL += rec.Exit.PnL

	switch rec.Result {
	case domain.ResultWin:
		daily.Wins++
		global.Wins++
		daily.PnLFromWins += rec.Exit.PnL
		global.PnLFromWins += rec.Exit.PnL
	case domain.ResultLoss:
		daily.Losses++
		global.Losses++
		daily.PnLFromLosses += rec.Exit.PnL
		global.PnLFromLosses += rec.Exit.PnL
	case domain.ResultLiquidation:
		daily.Liquidations++
		global.Liquidations++
	}

	s.daily[dailyKey] = daily
	s.global[symbol] = global
}

// Context assembles the last 5 closed trades, today's aggregate, the
// never-reset global aggregate, and derived pattern strings.
func (s *Store) Context(ctx context.Context, symbol string) domain.HistoryContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closed := make([]domain.TradeRecord, 0, len(s.recent[symbol]))
	for _, r := range s.recent[symbol] {
		if r.Exit != nil {
			closed = append(closed, r)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Exit.Time.After(closed[j].Exit.Time) })
	if len(closed) > contextRecentCap {
		closed = closed[:contextRecentCap]
	}

	today := time.Now().Format("2006-01-02")
	daily := s.daily[symbol+"|"+today]
	daily.Date = today
	global := s.global[symbol]

	return domain.HistoryContext{
		Recent:   closed,
		Daily:    daily,
		Global:   global,
		Patterns: derivePatterns(s.recent[symbol]),
	}
}

func derivePatterns(records []domain.TradeRecord) []string {
	var patterns []string

	var winRSI, lossRSI []float64
	liquidations := 0
	for _, r := range records {
		if r.Exit == nil {
			continue
		}
		switch r.Result {
		case domain.ResultWin:
			winRSI = append(winRSI, r.Entry.RSI)
		case domain.ResultLoss:
			lossRSI = append(lossRSI, r.Entry.RSI)
		case domain.ResultLiquidation:
			liquidations++
		}
	}

	if len(winRSI) > 0 && len(lossRSI) > 0 {
		patterns = append(patterns, fmt.Sprintf(
			"avg RSI at entry: wins=%.1f losses=%.1f", avg(winRSI), avg(lossRSI)))
	}
	if liquidations > 0 {
		patterns = append(patterns, fmt.Sprintf(
			"%d liquidation(s) recorded — review leverage sizing", liquidations))
	}
	return patterns
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

// FormatContext renders a deterministic prose block for C4 prompts.
func FormatContext(ctx domain.HistoryContext) string {
	out := fmt.Sprintf("Today: %d trades, %.0f%% win rate, realised PnL %.2f.\n",
		ctx.Daily.Trades, ctx.Daily.WinRate()*100, ctx.Daily.RealizedPnL)
	out += fmt.Sprintf("All-time: %d trades, %.0f%% win rate, realised PnL %.2f.\n",
		ctx.Global.Trades, ctx.Global.WinRate()*100, ctx.Global.RealizedPnL)

	if len(ctx.Recent) > 0 {
		out += "Recent closed trades:\n"
		for _, r := range ctx.Recent {
			out += fmt.Sprintf("  - %s %s -> %s, pnl=%.2f (%.2f%%)\n",
				r.Side.String(), r.OpenTime.Format("15:04"), r.Result, r.Exit.PnL, r.Exit.PnLPct)
		}
	}
	for _, p := range ctx.Patterns {
		out += "Pattern: " + p + "\n"
	}
	return out
}

func (s *Store) appendWAL(env walEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal history WAL envelope")
	}
	idx := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(idx, env.Kind+"_"+env.Symbol, payload); err != nil {
		return errors.Wrap(err, "append history WAL")
	}
	return nil
}

func (s *Store) projectCurrent(ctx context.Context, symbol string, rec domain.TradeRecord) {
	if !s.redisAvailable.Load() {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	setCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	key := fmt.Sprintf("trading:position:%s:current", symbol)
	if err := s.redis.Set(setCtx, key, payload, positionTTL).Err(); err != nil {
		s.logger.Warn("history store: failed to project current position", zap.Error(err))
		s.redisAvailable.Store(false)
	}

	listKey := fmt.Sprintf("trading:decisions:%s", symbol)
	s.redis.LPush(setCtx, listKey, payload)
	s.redis.LTrim(setCtx, listKey, 0, recentCap-1)
}

func (s *Store) projectClose(ctx context.Context, symbol string, rec domain.TradeRecord) {
	if !s.redisAvailable.Load() || rec.Exit == nil {
		return
	}
	setCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	s.redis.Del(setCtx, fmt.Sprintf("trading:position:%s:current", symbol))

	dayKey := fmt.Sprintf("trading:daily:%s", rec.Exit.Time.Format("2006-01-02"))
	s.redis.HIncrBy(setCtx, dayKey, "trades", 1)
	if rec.Result == domain.ResultWin {
		s.redis.HIncrBy(setCtx, dayKey, "wins", 1)
	} else if rec.Result == domain.ResultLoss {
		s.redis.HIncrBy(setCtx, dayKey, "losses", 1)
	}

	s.redis.HIncrBy(setCtx, "trading:global:stats", "trades", 1)
}

func appendCapped(records []domain.TradeRecord, rec domain.TradeRecord, cap int) []domain.TradeRecord {
	records = append(records, rec)
	if len(records) > cap {
		records = records[len(records)-cap:]
	}
	return records
}

// Close releases the underlying WAL and Redis client.
func (s *Store) Close() error {
	if err := s.wal.Close(); err != nil {
		return errors.Wrap(err, "close history WAL")
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
