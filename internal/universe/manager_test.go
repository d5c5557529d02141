package universe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
)

type fakeCandidates struct {
	tokens []domain.Token
	err    error
	calls  int
}

func (f *fakeCandidates) Candidates(context.Context) ([]domain.Token, error) {
	f.calls++
	return f.tokens, f.err
}

type fakeMetrics map[string]domain.TokenMetrics

func (f fakeMetrics) Metrics(_ context.Context, addr string) (domain.TokenMetrics, error) {
	m, ok := f[addr]
	if !ok {
		return domain.TokenMetrics{}, errors.New("no pair")
	}
	return m, nil
}

type fakeLiquidity map[common.Address]float64

func (f fakeLiquidity) CheckLiquidityMin(_ context.Context, token common.Address, minUSD float64) (domain.Pool, float64, error) {
	liq := f[token]
	if liq < minUSD {
		return domain.Pool{}, liq, errors.New("insufficient liquidity")
	}
	return domain.Pool{Address: "0xpool"}, liq, nil
}

func addr(n int) string {
	return common.BigToAddress(new(big.Int).Lsh(big.NewInt(1), uint(n+8))).Hex()
}

type fixture struct {
	mgr        *Manager
	candidates *fakeCandidates
	clock      *clock
}

// newFixture builds candidates GMX (best), LINK, PENDLE, a blacklisted USDC,
// an invalid address, one without a price and one too shallow.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	cands := &fakeCandidates{tokens: []domain.Token{
		{Symbol: "gmx", Address: addr(1)},
		{Symbol: "LINK", Address: addr(2)},
		{Symbol: " pendle ", Address: addr(3)},
		{Symbol: "USDC", Address: addr(4)},
		{Symbol: "BAD", Address: "0x1234"},
		{Symbol: "NOPRICE", Address: addr(5)},
		{Symbol: "SHALLOW", Address: addr(6)},
		{Symbol: "GMX", Address: addr(7)},
	}}
	metrics := fakeMetrics{
		addr(1): {PriceUSD: 40, LiquidityUSD: 500000, VolumeUSD24h: 100000, PriceChange24h: -5},
		addr(2): {PriceUSD: 15, LiquidityUSD: 300000, VolumeUSD24h: 50000, PriceChange24h: 2},
		addr(3): {PriceUSD: 5, LiquidityUSD: 100000, VolumeUSD24h: 10000, PriceChange24h: 1},
		addr(4): {PriceUSD: 1, LiquidityUSD: 1e9, VolumeUSD24h: 1e9},
		addr(6): {PriceUSD: 2, LiquidityUSD: 100, VolumeUSD24h: 10},
	}
	liq := fakeLiquidity{
		common.HexToAddress(addr(1)): 50000,
		common.HexToAddress(addr(2)): 40000,
		common.HexToAddress(addr(3)): 3000,
		common.HexToAddress(addr(4)): 1e9,
		common.HexToAddress(addr(5)): 1e6,
		common.HexToAddress(addr(6)): 10,
	}

	cfg := DefaultConfig()
	cfg.CachePath = filepath.Join(t.TempDir(), "tokens.json")
	cfg.HotSize = 2
	cfg.WatchCap = 10

	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr := NewManager(cfg, cands, metrics, liq, zerolog.Nop())
	mgr.now = c.now
	return &fixture{mgr: mgr, candidates: cands, clock: c}
}

func symbols(tokens []domain.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Symbol
	}
	return out
}

func TestRefresh_ValidatesAndRanks(t *testing.T) {
	f := newFixture(t)

	res, err := f.mgr.Refresh(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Source != SourceDiscovery {
		t.Errorf("source = %s, want discovery", res.Source)
	}

	// GMX: 50 + 10 - 5 = 55; LINK: 30 + 5 - 2 = 33; PENDLE: 10 + 1 - 1 = 10
	got := fmt.Sprint(symbols(f.mgr.Tokens()))
	if got != "[GMX LINK PENDLE]" {
		t.Errorf("ranked universe = %s", got)
	}
	if res.Rejected != 3 {
		t.Errorf("rejected = %d, want 3 (BAD, NOPRICE, SHALLOW)", res.Rejected)
	}

	gmx, _ := f.mgr.Token("GMX")
	if gmx.Score != 55 || gmx.Address != addr(1) {
		t.Errorf("GMX = %+v", gmx)
	}

	cached, _, err := ReadCache(f.mgr.cfg.CachePath)
	if err != nil {
		t.Fatalf("ReadCache: %v", err)
	}
	if fmt.Sprint(symbols(cached)) != got {
		t.Errorf("cache = %v, want %s", symbols(cached), got)
	}
}

func TestRefresh_SkipsWhenCacheFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Refresh(ctx, true, nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	f.clock.advance(time.Hour)

	res, err := f.mgr.Refresh(ctx, false, nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Source != SourceSkipped || f.candidates.calls != 1 {
		t.Errorf("expected skip without discovery, got %s after %d calls", res.Source, f.candidates.calls)
	}

	f.clock.advance(12 * time.Hour)
	res, _ = f.mgr.Refresh(ctx, false, nil)
	if res.Source != SourceDiscovery {
		t.Errorf("expected discovery once cache is stale, got %s", res.Source)
	}
}

func TestRefresh_FallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Refresh(ctx, true, nil); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	f.candidates.err = errors.New("token list unavailable")
	res, err := f.mgr.Refresh(ctx, true, nil)
	if err != nil {
		t.Fatalf("expected cache fallback, got %v", err)
	}
	if res.Source != SourceCache || res.Tokens != 3 {
		t.Errorf("fallback result = %+v", res)
	}
}

func TestRefresh_NoDiscoveryNoCache(t *testing.T) {
	f := newFixture(t)
	f.candidates.err = errors.New("down")

	_, err := f.mgr.Refresh(context.Background(), true, nil)
	if !errors.Is(err, ErrNoUniverse) {
		t.Errorf("expected ErrNoUniverse, got %v", err)
	}
}

func TestRefresh_PreservesHeld(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.MaxCandidates = 1

	held := []domain.Token{{Symbol: "PENDLE", Address: addr(3)}, {Symbol: "GHOST"}}
	if _, err := f.mgr.Refresh(context.Background(), true, held); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got := fmt.Sprint(symbols(f.mgr.Tokens()))
	if got != "[GMX PENDLE]" {
		t.Errorf("universe = %s, want held PENDLE kept and GHOST skipped", got)
	}
}

func TestChecksumAddress(t *testing.T) {
	const sum = "0x912CE59144191C1204E64559FE8253a0e49E6548"
	tests := []struct {
		in      string
		wantErr bool
	}{
		{sum, false},
		{"0x912ce59144191c1204e64559fe8253a0e49e6548", false},
		{"0x912cE59144191C1204E64559FE8253a0e49E6548", true},
		{"0x1234", true},
		{"not-an-address", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ChecksumAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != sum {
				t.Errorf("got %s, want %s", got, sum)
			}
		})
	}
}
