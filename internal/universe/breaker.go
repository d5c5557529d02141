package universe

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// BreakerConfig configures the per-symbol circuit breaker.
type BreakerConfig struct {
	Threshold   int           // liquidity failures that disable a symbol
	ResetWindow time.Duration // a gap longer than this resets the count
	Cooldown    time.Duration // how long a symbol stays disabled
}

// DefaultBreakerConfig returns 3 failures / 30m window / 12h cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:   3,
		ResetWindow: 30 * time.Minute,
		Cooldown:    12 * time.Hour,
	}
}

// Breaker disables symbols that keep failing for liquidity reasons.
// State is optionally persisted so a restart does not re-enable a symbol early.
type Breaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	states map[string]*domain.FailureState
	store  storage.FailureStateStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewBreaker creates a Breaker. store may be nil.
func NewBreaker(cfg BreakerConfig, store storage.FailureStateStore, logger zerolog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	return &Breaker{
		cfg:    cfg,
		states: make(map[string]*domain.FailureState),
		store:  store,
		logger: logger.With().Str("component", "breaker").Logger(),
		now:    time.Now,
	}
}

// Load restores state from the store.
func (b *Breaker) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	all, err := b.store.GetAll(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range all {
		s := *st
		b.states[s.Symbol] = &s
	}
	b.logger.Info().Int("symbols", len(all)).Msg("breaker state loaded")
	return nil
}

// Disabled reports whether symbol is currently disabled. An expired
// disable clears the symbol's state.
func (b *Breaker) Disabled(ctx context.Context, symbol string) bool {
	b.mu.Lock()
	st, ok := b.states[symbol]
	if !ok {
		b.mu.Unlock()
		return false
	}
	nowMs := b.now().UnixMilli()
	if st.Disabled(nowMs) {
		b.mu.Unlock()
		return true
	}
	expired := st.DisabledUntil != 0
	if expired {
		delete(b.states, symbol)
	}
	b.mu.Unlock()

	if expired {
		b.logger.Info().Str("symbol", symbol).Msg("symbol re-enabled after cooldown")
		b.remove(ctx, symbol)
	}
	return false
}

// RecordFailure counts a liquidity-related failure and reports whether the
// symbol is now disabled.
func (b *Breaker) RecordFailure(ctx context.Context, symbol string) bool {
	now := b.now()
	nowMs := now.UnixMilli()

	b.mu.Lock()
	st, ok := b.states[symbol]
	if !ok {
		st = &domain.FailureState{Symbol: symbol}
		b.states[symbol] = st
	}
	if st.Disabled(nowMs) {
		b.mu.Unlock()
		return true
	}
	if st.DisabledUntil != 0 || (st.LastFailure != 0 && nowMs-st.LastFailure > b.cfg.ResetWindow.Milliseconds()) {
		st.Count = 0
		st.DisabledUntil = 0
	}
	st.Count++
	st.LastFailure = nowMs

	disabled := st.Count >= b.cfg.Threshold
	if disabled {
		st.DisabledUntil = now.Add(b.cfg.Cooldown).UnixMilli()
	}
	snapshot := *st
	b.mu.Unlock()

	if disabled {
		b.logger.Warn().
			Str("symbol", symbol).
			Int("failures", snapshot.Count).
			Time("disabled_until", time.UnixMilli(snapshot.DisabledUntil)).
			Msg("symbol disabled by circuit breaker")
	} else {
		b.logger.Debug().Str("symbol", symbol).Int("failures", snapshot.Count).Msg("liquidity failure recorded")
	}
	b.persist(ctx, &snapshot)
	return disabled
}

// RecordSuccess clears the symbol's failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context, symbol string) {
	b.mu.Lock()
	_, ok := b.states[symbol]
	delete(b.states, symbol)
	b.mu.Unlock()

	if ok {
		b.remove(ctx, symbol)
	}
}

// State returns a copy of the symbol's failure state.
func (b *Breaker) State(symbol string) (domain.FailureState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[symbol]
	if !ok {
		return domain.FailureState{}, false
	}
	return *st, true
}

// DisabledSymbols returns the currently disabled symbols, sorted.
func (b *Breaker) DisabledSymbols() []string {
	nowMs := b.now().UnixMilli()

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for sym, st := range b.states {
		if st.Disabled(nowMs) {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Breaker) persist(ctx context.Context, st *domain.FailureState) {
	if b.store == nil {
		return
	}
	if err := b.store.Put(ctx, st); err != nil {
		b.logger.Warn().Err(err).Str("symbol", st.Symbol).Msg("persist failure state")
	}
}

func (b *Breaker) remove(ctx context.Context, symbol string) {
	if b.store == nil {
		return
	}
	if err := b.store.Delete(ctx, symbol); err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("delete failure state")
	}
}
