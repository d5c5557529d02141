// Package scheduler drives the scan loop: one cycle at a time it prices the
// active symbols, scores them, rebalances the hot and watch groups and runs
// trade checks through the execution engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/execution"
	"dex-trade-agent/internal/ledger"
	"dex-trade-agent/internal/observability"
	"dex-trade-agent/internal/risk"
	"dex-trade-agent/internal/signal"
	"dex-trade-agent/internal/storage"
	"dex-trade-agent/internal/universe"
)

// ErrCycleInFlight is returned by RunCycle while another cycle runs.
var ErrCycleInFlight = errors.New("scan cycle already in flight")

// Cycle statuses reported to metrics.
const (
	StatusOK       = "ok"
	StatusPanicked = "panic"
)

// PriceSource returns a token's USD price.
type PriceSource interface {
	Price(ctx context.Context, address string) (float64, error)
}

// Universe is the token universe and its groups.
type Universe interface {
	Refresh(ctx context.Context, force bool, held []domain.Token) (universe.RefreshResult, error)
	Rebalance(evals []domain.Evaluation, now time.Time) bool
	Tokens() []domain.Token
	Token(symbol string) (domain.Token, bool)
	Hot() []string
	Watch() []string
}

// Breaker reports disabled symbols.
type Breaker interface {
	Disabled(ctx context.Context, symbol string) bool
	DisabledSymbols() []string
}

// Executor runs trade intents.
type Executor interface {
	Buy(ctx context.Context, in execution.Intent) execution.Result
	Sell(ctx context.Context, in execution.Intent) execution.Result
}

// Wallet reads balances and prices used for buy sizing.
type Wallet interface {
	WalletBalance(ctx context.Context, token common.Address) (*big.Int, error)
}

// GasPricer returns the current gas price in wei.
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// NativePricer returns the base asset's USD price.
type NativePricer interface {
	NativeUSD(ctx context.Context) (float64, error)
}

// Config holds scan loop settings.
type Config struct {
	Interval        time.Duration // base scan interval
	WatchEvery      int           // watch group is trade-checked every Nth cycle
	RefreshInterval time.Duration // universe refresh timer
	HistoryCap      int
	Fanout          int
	CallTimeout     time.Duration
	MinCloses       int    // 0 = signal warm-up length
	GasReserveUnits uint64 // gas kept back from buy capital
	Simulate        bool
	Base            domain.Token // asset spent on buys
	SkipSymbols     []string     // base and quote assets, never trade-checked
}

// DefaultConfig returns the production scan settings.
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		WatchEvery:      5,
		RefreshInterval: time.Hour,
		HistoryCap:      DefaultHistoryCap,
		Fanout:          8,
		CallTimeout:     15 * time.Second,
		GasReserveUnits: 210000,
	}
}

// Options wires a Scheduler.
type Options struct {
	Config   Config
	Prices   PriceSource
	Universe Universe
	Signals  *signal.Engine
	Risk     *risk.Manager
	Ledger   *ledger.Ledger
	Breaker  Breaker
	Executor Executor
	Wallet   Wallet
	Gas      GasPricer
	Native   NativePricer
	Samples  storage.PriceSampleStore // optional
	Logger   zerolog.Logger
}

// TradeSummary is one trade attempt made by a cycle.
type TradeSummary struct {
	Symbol    string         `json:"symbol"`
	Action    domain.Action  `json:"action"`
	Outcome   domain.Outcome `json:"outcome"`
	Reason    string         `json:"reason"`
	Simulated bool           `json:"simulated"`
	TxHash    string         `json:"tx_hash,omitempty"`
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	ID           string         `json:"id"`
	Number       uint64         `json:"number"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Refresh      string         `json:"refresh,omitempty"`
	Active       int            `json:"active"`
	Priced       int            `json:"priced"`
	Missing      int            `json:"missing"`
	Rebalanced   bool           `json:"rebalanced"`
	WatchChecked bool           `json:"watch_checked"`
	Trades       []TradeSummary `json:"trades,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
}

// Scheduler owns PriceHistory and runs scan cycles one at a time.
type Scheduler struct {
	cfg      Config
	prices   PriceSource
	universe Universe
	signals  *signal.Engine
	risk     *risk.Manager
	ledger   *ledger.Ledger
	breaker  Breaker
	executor Executor
	wallet   Wallet
	gas      GasPricer
	native   NativePricer
	samples  storage.PriceSampleStore
	history  *PriceHistory
	logger   zerolog.Logger
	now      func() time.Time
	skip     map[string]struct{}

	inFlight   atomic.Bool
	refreshDue atomic.Bool
	cycles     atomic.Uint64

	mu   sync.RWMutex
	last CycleResult
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.WatchEvery <= 0 {
		cfg.WatchEvery = 1
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.MinCloses <= 0 {
		cfg.MinCloses = opts.Signals.MinHistory()
	}
	if cfg.Base.Decimals == 0 {
		cfg.Base.Decimals = 18
	}
	skip := make(map[string]struct{}, len(cfg.SkipSymbols)+1)
	for _, s := range cfg.SkipSymbols {
		skip[domain.NormalizeSymbol(s)] = struct{}{}
	}
	if cfg.Base.Symbol != "" {
		skip[domain.NormalizeSymbol(cfg.Base.Symbol)] = struct{}{}
	}

	return &Scheduler{
		cfg:      cfg,
		prices:   opts.Prices,
		universe: opts.Universe,
		signals:  opts.Signals,
		risk:     opts.Risk,
		ledger:   opts.Ledger,
		breaker:  opts.Breaker,
		executor: opts.Executor,
		wallet:   opts.Wallet,
		gas:      opts.Gas,
		native:   opts.Native,
		samples:  opts.Samples,
		history:  NewPriceHistory(cfg.HistoryCap),
		logger:   opts.Logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		skip:     skip,
	}
}

// History returns the scheduler's price history.
func (s *Scheduler) History() *PriceHistory {
	return s.history
}

// RequestRefresh marks the universe for refresh at the start of the next cycle.
func (s *Scheduler) RequestRefresh() {
	s.refreshDue.Store(true)
}

// Run starts the scan loop and blocks until ctx is done. The first cycle runs
// immediately. A tick that arrives while a cycle is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	scan := time.NewTicker(s.cfg.Interval)
	defer scan.Stop()
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunCycle(ctx); errors.Is(err, ErrCycleInFlight) {
				s.logger.Warn().Msg("previous cycle still running, tick skipped")
			}
		}()
	}

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("watch_every", s.cfg.WatchEvery).
		Dur("refresh_interval", s.cfg.RefreshInterval).
		Bool("simulate", s.cfg.Simulate).
		Msg("scan loop started")
	start()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scan loop stopping")
			return ctx.Err()
		case <-refresh.C:
			s.RequestRefresh()
		case <-scan.C:
			start()
		}
	}
}

// RunCycle runs one scan cycle. It returns ErrCycleInFlight without doing
// anything when another cycle is running.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		observability.RecordCycleSkipped()
		return CycleResult{}, ErrCycleInFlight
	}
	defer s.inFlight.Store(false)

	res := CycleResult{
		ID:        uuid.NewString(),
		Number:    s.cycles.Add(1),
		StartedAt: s.now(),
	}
	logger := s.logger.With().Str("cycle_id", res.ID).Uint64("cycle", res.Number).Logger()

	status := StatusOK
	func() {
		defer func() {
			if r := recover(); r != nil {
				status = StatusPanicked
				res.Errors = append(res.Errors, fmt.Sprintf("panic: %v", r))
				logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("scan cycle panicked")
			}
		}()
		s.cycle(ctx, &res, logger)
	}()

	res.Duration = s.now().Sub(res.StartedAt)
	observability.RecordCycle(status, res.Duration)

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	logger.Info().
		Dur("duration", res.Duration).
		Int("active", res.Active).
		Int("priced", res.Priced).
		Int("missing", res.Missing).
		Int("trades", len(res.Trades)).
		Bool("watch_checked", res.WatchChecked).
		Msg("scan cycle finished")
	return res, nil
}

// cycle runs the phases of one scan:
//  1. Refresh the universe if due
//  2. Price the active set (hot, watch and held)
//  3. Append closes and score every priced symbol
//  4. Rebalance groups
//  5. Trade checks
func (s *Scheduler) cycle(ctx context.Context, res *CycleResult, logger zerolog.Logger) {
	if s.refreshDue.Swap(false) {
		if r, err := s.RefreshUniverse(ctx, false); err != nil {
			res.Errors = append(res.Errors, "refresh: "+err.Error())
			logger.Error().Err(err).Msg("universe refresh failed")
		} else {
			res.Refresh = r.Source
		}
	}

	active := s.activeSet()
	res.Active = len(active)

	prices := s.fetchPrices(ctx, active, logger)
	res.Priced = len(prices)
	res.Missing = len(active) - len(prices)
	observability.RecordMissingPrices(res.Missing)

	s.recordPrices(ctx, prices, logger)

	evals := make([]domain.Evaluation, 0, len(prices))
	for _, t := range active {
		if _, ok := prices[t.Symbol]; !ok {
			continue
		}
		evals = append(evals, s.signals.Score(t.Symbol, s.history.Closes(t.Symbol)))
	}
	s.signals.ApplyZeroScorePolicy(evals)

	res.Rebalanced = s.universe.Rebalance(evals, res.StartedAt)

	res.WatchChecked = res.Number%uint64(s.cfg.WatchEvery) == 0
	res.Trades = s.tradeChecks(ctx, evals, res.WatchChecked, logger)

	var disabled int
	if s.breaker != nil {
		disabled = len(s.breaker.DisabledSymbols())
	}
	observability.UpdateGroups(len(s.universe.Hot()), len(s.universe.Watch()), disabled)
}

// RefreshUniverse refreshes the universe, keeping held symbols in it.
func (s *Scheduler) RefreshUniverse(ctx context.Context, force bool) (universe.RefreshResult, error) {
	return s.universe.Refresh(ctx, force, s.heldTokens())
}

func (s *Scheduler) heldTokens() []domain.Token {
	positions := s.ledger.Positions()
	out := make([]domain.Token, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.Token{Symbol: p.Symbol, Address: p.Token})
	}
	return out
}

// activeSet returns hot, then watch, then held symbols, deduplicated.
func (s *Scheduler) activeSet() []domain.Token {
	seen := make(map[string]struct{})
	var out []domain.Token
	add := func(t domain.Token) {
		if t.Symbol == "" || t.Address == "" {
			return
		}
		if _, ok := seen[t.Symbol]; ok {
			return
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t)
	}

	for _, group := range [][]string{s.universe.Hot(), s.universe.Watch()} {
		for _, sym := range group {
			if t, ok := s.universe.Token(sym); ok {
				add(t)
			}
		}
	}
	for _, t := range s.heldTokens() {
		if u, ok := s.universe.Token(t.Symbol); ok {
			t = u
		}
		add(t)
	}
	return out
}

// fetchPrices prices tokens concurrently. Tokens whose price is unavailable
// are left out for this cycle.
func (s *Scheduler) fetchPrices(ctx context.Context, tokens []domain.Token, logger zerolog.Logger) map[string]float64 {
	results := make([]float64, len(tokens))

	var g errgroup.Group
	g.SetLimit(s.cfg.Fanout)
	for i, t := range tokens {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()
			p, err := s.prices.Price(callCtx, t.Address)
			if err != nil || p <= 0 {
				logger.Debug().Err(err).Str("symbol", t.Symbol).Msg("price unavailable, skipped this cycle")
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]float64, len(tokens))
	for i, t := range tokens {
		if results[i] > 0 {
			out[t.Symbol] = results[i]
		}
	}
	return out
}

// recordPrices appends closes, marks held positions and persists samples.
func (s *Scheduler) recordPrices(ctx context.Context, prices map[string]float64, logger zerolog.Logger) {
	nowMs := s.now().UnixMilli()
	samples := make([]*domain.PriceSample, 0, len(prices))
	for sym, p := range prices {
		s.history.Append(sym, p)
		s.ledger.Mark(sym, p)
		samples = append(samples, &domain.PriceSample{Symbol: sym, TimestampMs: nowMs, Price: p})
	}

	if s.samples == nil || len(samples) == 0 {
		return
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Symbol < samples[j].Symbol })
	if err := s.samples.InsertBulk(ctx, samples); err != nil {
		logger.Warn().Err(err).Int("samples", len(samples)).Msg("persist price samples")
	}
}

// WarmUp seeds PriceHistory from persisted samples for every universe token.
// It returns the number of symbols seeded.
func (s *Scheduler) WarmUp(ctx context.Context) (int, error) {
	if s.samples == nil {
		return 0, nil
	}
	var seeded int
	for _, t := range s.universe.Tokens() {
		recent, err := s.samples.GetRecent(ctx, t.Symbol, s.history.cap)
		if err != nil {
			return seeded, fmt.Errorf("warm up %s: %w", t.Symbol, err)
		}
		if len(recent) == 0 {
			continue
		}
		closes := make([]float64, len(recent))
		for i, r := range recent {
			closes[i] = r.Price
		}
		s.history.Seed(t.Symbol, closes)
		seeded++
	}
	s.logger.Info().Int("symbols", seeded).Msg("price history warmed up")
	return seeded, nil
}

// Status is a read-only view of scheduler state.
type Status struct {
	Cycles    uint64            `json:"cycles"`
	InFlight  bool              `json:"in_flight"`
	LastCycle CycleResult       `json:"last_cycle"`
	Hot       []string          `json:"hot"`
	Watch     []string          `json:"watch"`
	Disabled  []string          `json:"disabled"`
	Positions []domain.Position `json:"positions"`
}

// Snapshot returns a copy of the current state. It never mutates anything.
func (s *Scheduler) Snapshot() Status {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	st := Status{
		Cycles:    s.cycles.Load(),
		InFlight:  s.inFlight.Load(),
		LastCycle: last,
		Hot:       s.universe.Hot(),
		Watch:     s.universe.Watch(),
		Positions: s.ledger.Positions(),
	}
	if s.breaker != nil {
		st.Disabled = s.breaker.DisabledSymbols()
	}
	return st
}

// baseCapital returns the base-asset balance minus the gas reserve.
func (s *Scheduler) baseCapital(ctx context.Context) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	bal, err := s.wallet.WalletBalance(callCtx, common.HexToAddress(s.cfg.Base.Address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("base balance: %w", err)
	}
	capital := decimal.NewFromBigInt(bal, -int32(s.cfg.Base.Decimals))

	if s.gas != nil {
		price, err := s.gas.GasPrice(callCtx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("gas price: %w", err)
		}
		capital = capital.Sub(risk.GasReserve(price, s.cfg.GasReserveUnits))
	}
	if capital.IsNegative() {
		return decimal.Zero, nil
	}
	return capital, nil
}
