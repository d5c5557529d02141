// Package universe curates the tradable token set: discovery, validation,
// ranking, hot/watch grouping and the failure circuit breaker.
package universe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/observability"
)

// DefaultBlacklist lists stable, base and wrapped assets that are never traded.
var DefaultBlacklist = []string{
	"USDC", "USDT", "DAI", "FRAX", "TUSD", "WBTC", "WETH", "ETH", "ARB", "RETH",
	"SWETH", "MIM", "LUSD", "USDP", "SWUSD", "TBTC", "USD0++", "BERNA", "SPTED",
	"USHYD", "BGOOGL", "AVRK",
}

// ErrNoUniverse is returned when neither discovery nor the cache yields tokens.
var ErrNoUniverse = errors.New("no token universe available")

// Refresh sources.
const (
	SourceDiscovery = "discovery"
	SourceCache     = "cache"
	SourceSkipped   = "skipped"
)

// CandidateSource lists raw candidate tokens.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]domain.Token, error)
}

// MetricsSource returns market statistics for a token address.
type MetricsSource interface {
	Metrics(ctx context.Context, address string) (domain.TokenMetrics, error)
}

// LiquidityChecker confirms on-chain pool depth for a token.
type LiquidityChecker interface {
	CheckLiquidityMin(ctx context.Context, token common.Address, minUSD float64) (domain.Pool, float64, error)
}

// Config configures the Manager.
type Config struct {
	CachePath         string
	FullRefresh       time.Duration // cache younger than this skips discovery
	MaxCandidates     int
	MinLiquidityUSD   float64 // on-chain pool depth required to validate
	HotSize           int
	WatchCap          int
	RebalanceInterval time.Duration
	Fanout            int
	CallTimeout       time.Duration
	Blacklist         []string
}

// DefaultConfig returns the production universe settings.
func DefaultConfig() Config {
	return Config{
		CachePath:         "data/tokens.json",
		FullRefresh:       12 * time.Hour,
		MaxCandidates:     30,
		MinLiquidityUSD:   2000,
		HotSize:           5,
		WatchCap:          25,
		RebalanceInterval: 5 * time.Minute,
		Fanout:            8,
		CallTimeout:       15 * time.Second,
		Blacklist:         DefaultBlacklist,
	}
}

// RefreshResult describes one Refresh call.
type RefreshResult struct {
	Source    string
	Tokens    int
	Rejected  int
	UpdatedAt time.Time
}

// Manager owns the ranked universe and its hot/watch partition.
type Manager struct {
	cfg        Config
	candidates CandidateSource
	metrics    MetricsSource
	liquidity  LiquidityChecker
	logger     zerolog.Logger
	now        func() time.Time
	blacklist  map[string]struct{}

	mu            sync.RWMutex
	tokens        []domain.Token // ranked, best first
	updatedAt     time.Time
	hot           []string
	watch         []string
	lastRebalance time.Time
}

// NewManager creates a Manager.
func NewManager(cfg Config, candidates CandidateSource, metrics MetricsSource, liquidity LiquidityChecker, logger zerolog.Logger) *Manager {
	if cfg.Fanout <= 0 {
		cfg.Fanout = 8
	}
	if cfg.HotSize <= 0 {
		cfg.HotSize = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	bl := make(map[string]struct{}, len(cfg.Blacklist))
	for _, s := range cfg.Blacklist {
		bl[domain.NormalizeSymbol(s)] = struct{}{}
	}
	return &Manager{
		cfg:        cfg,
		candidates: candidates,
		metrics:    metrics,
		liquidity:  liquidity,
		logger:     logger.With().Str("component", "universe").Logger(),
		now:        time.Now,
		blacklist:  bl,
	}
}

// Blacklisted reports whether symbol must never be traded.
func (m *Manager) Blacklisted(symbol string) bool {
	_, ok := m.blacklist[domain.NormalizeSymbol(symbol)]
	return ok
}

// LoadCache seeds the universe from the cache file without discovery.
func (m *Manager) LoadCache() (RefreshResult, error) {
	tokens, at, err := ReadCache(m.cfg.CachePath)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load token cache: %w", err)
	}
	tokens = m.filterBlacklisted(tokens)
	m.setUniverse(tokens, at)
	return RefreshResult{Source: SourceCache, Tokens: len(tokens), UpdatedAt: at}, nil
}

// Refresh rebuilds the universe. Without force, a cache younger than
// FullRefresh is reused. Symbols in held stay in the universe even when
// they no longer rank. On discovery failure the last cache file is used.
func (m *Manager) Refresh(ctx context.Context, force bool, held []domain.Token) (RefreshResult, error) {
	now := m.now()

	if !force {
		if _, at, err := ReadCache(m.cfg.CachePath); err == nil && now.Sub(at) < m.cfg.FullRefresh {
			m.mu.RLock()
			empty := len(m.tokens) == 0
			m.mu.RUnlock()
			if empty {
				if _, err := m.LoadCache(); err != nil {
					return RefreshResult{}, err
				}
			}
			m.ensureHeld(held)
			res := RefreshResult{Source: SourceSkipped, Tokens: m.Len(), UpdatedAt: at}
			observability.RecordUniverseRefresh(res.Source, res.Tokens)
			m.logger.Debug().Dur("age", now.Sub(at)).Msg("token cache fresh, refresh skipped")
			return res, nil
		}
	}

	ranked, rejected, err := m.discover(ctx)
	if err != nil || len(ranked) == 0 {
		if err == nil {
			err = errors.New("no candidates passed validation")
		}
		m.logger.Warn().Err(err).Msg("discovery failed, falling back to token cache")

		res, cacheErr := m.LoadCache()
		if cacheErr != nil {
			return RefreshResult{}, fmt.Errorf("%w: discovery: %v; cache: %v", ErrNoUniverse, err, cacheErr)
		}
		m.ensureHeld(held)
		res.Tokens = m.Len()
		observability.RecordUniverseRefresh(res.Source, res.Tokens)
		return res, nil
	}

	if len(ranked) > m.cfg.MaxCandidates && m.cfg.MaxCandidates > 0 {
		ranked = ranked[:m.cfg.MaxCandidates]
	}
	ranked = m.withHeld(ranked, held)

	m.setUniverse(ranked, now)
	if err := WriteCache(m.cfg.CachePath, ranked, now); err != nil {
		m.logger.Error().Err(err).Str("path", m.cfg.CachePath).Msg("write token cache")
	}

	res := RefreshResult{Source: SourceDiscovery, Tokens: len(ranked), Rejected: rejected, UpdatedAt: now}
	observability.RecordUniverseRefresh(res.Source, res.Tokens)
	m.logger.Info().Int("tokens", res.Tokens).Int("rejected", rejected).Msg("token universe refreshed")
	return res, nil
}

func (m *Manager) discover(ctx context.Context) ([]domain.Token, int, error) {
	raw, err := m.candidates.Candidates(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch candidates: %w", err)
	}

	seen := make(map[string]struct{}, len(raw))
	var pending []domain.Token
	for _, t := range raw {
		t.Symbol = domain.NormalizeSymbol(t.Symbol)
		if t.Symbol == "" || m.Blacklisted(t.Symbol) {
			continue
		}
		if _, dup := seen[t.Symbol]; dup {
			continue
		}
		seen[t.Symbol] = struct{}{}
		pending = append(pending, t)
	}

	results := make([]*domain.Token, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Fanout)
	for i, t := range pending {
		g.Go(func() error {
			v, err := m.validate(gctx, t)
			if err != nil {
				m.logger.Debug().Err(err).Str("symbol", t.Symbol).Msg("candidate rejected")
				return nil
			}
			results[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	var ranked []domain.Token
	for _, r := range results {
		if r != nil {
			ranked = append(ranked, *r)
		}
	}
	sortByScore(ranked)
	return ranked, len(pending) - len(ranked), nil
}

// validate checks the checksum address, price source and pool depth, and
// assigns the rank score.
func (m *Manager) validate(ctx context.Context, t domain.Token) (domain.Token, error) {
	addr, err := ChecksumAddress(t.Address)
	if err != nil {
		return t, err
	}
	t.Address = addr

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	stats, err := m.metrics.Metrics(callCtx, addr)
	if err != nil {
		return t, fmt.Errorf("price source: %w", err)
	}
	if stats.PriceUSD <= 0 {
		return t, errors.New("price source: no usable price")
	}

	if _, _, err := m.liquidity.CheckLiquidityMin(callCtx, common.HexToAddress(addr), m.cfg.MinLiquidityUSD); err != nil {
		return t, err
	}

	t.Score = RankScore(stats)
	return t, nil
}

// RankScore is liquidity/10k + 24h volume/10k - |24h price change %|.
func RankScore(s domain.TokenMetrics) float64 {
	return s.LiquidityUSD/10000 + s.VolumeUSD24h/10000 - math.Abs(s.PriceChange24h)
}

// ChecksumAddress validates a hex address and returns its EIP-55 form.
// All-lowercase and all-uppercase input is accepted; mixed case must
// already match the checksum.
func ChecksumAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address %q", s)
	}
	sum := common.HexToAddress(s).Hex()
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != sum {
		return "", fmt.Errorf("bad checksum for %q", s)
	}
	return sum, nil
}

func sortByScore(tokens []domain.Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Score != tokens[j].Score {
			return tokens[i].Score > tokens[j].Score
		}
		return tokens[i].Symbol < tokens[j].Symbol
	})
}

func (m *Manager) filterBlacklisted(tokens []domain.Token) []domain.Token {
	out := tokens[:0:0]
	for _, t := range tokens {
		if !m.Blacklisted(t.Symbol) {
			out = append(out, t)
		}
	}
	return out
}

// withHeld appends held tokens missing from ranked, after the ranked ones.
func (m *Manager) withHeld(ranked, held []domain.Token) []domain.Token {
	present := make(map[string]struct{}, len(ranked))
	for _, t := range ranked {
		present[t.Symbol] = struct{}{}
	}

	m.mu.RLock()
	previous := make(map[string]domain.Token, len(m.tokens))
	for _, t := range m.tokens {
		previous[t.Symbol] = t
	}
	m.mu.RUnlock()

	for _, h := range held {
		sym := domain.NormalizeSymbol(h.Symbol)
		if _, ok := present[sym]; ok {
			continue
		}
		t, ok := previous[sym]
		if !ok {
			t = h
			t.Symbol = sym
		}
		if t.Address == "" {
			m.logger.Warn().Str("symbol", sym).Msg("held symbol has no known address, cannot keep in universe")
			continue
		}
		ranked = append(ranked, t)
		present[sym] = struct{}{}
		m.logger.Info().Str("symbol", sym).Msg("keeping held symbol in universe")
	}
	return ranked
}

func (m *Manager) ensureHeld(held []domain.Token) {
	m.mu.RLock()
	current := append([]domain.Token(nil), m.tokens...)
	at := m.updatedAt
	m.mu.RUnlock()

	merged := m.withHeld(current, held)
	if len(merged) != len(current) {
		m.setUniverse(merged, at)
	}
}

// setUniverse installs a ranked list and prunes groups to it. Groups are
// seeded from rank order when empty.
func (m *Manager) setUniverse(tokens []domain.Token, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens = tokens
	m.updatedAt = at

	inUniverse := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		inUniverse[t.Symbol] = struct{}{}
	}
	m.hot = keepIn(m.hot, inUniverse)
	m.watch = keepIn(m.watch, inUniverse)

	if len(m.hot) == 0 {
		m.hot, m.watch = nil, nil
		for i, t := range tokens {
			if i < m.cfg.HotSize {
				m.hot = append(m.hot, t.Symbol)
			} else if m.cfg.WatchCap <= 0 || len(m.watch) < m.cfg.WatchCap {
				m.watch = append(m.watch, t.Symbol)
			}
		}
	}
}

func keepIn(symbols []string, set map[string]struct{}) []string {
	out := symbols[:0:0]
	for _, s := range symbols {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Tokens returns the ranked universe.
func (m *Manager) Tokens() []domain.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Token(nil), m.tokens...)
}

// Token looks up a universe token by symbol.
func (m *Manager) Token(symbol string) (domain.Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return domain.Token{}, false
}

// Len returns the universe size.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// UpdatedAt returns when the current universe was built.
func (m *Manager) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}
