// Package router locates a tradable AMM pool for a token pair and estimates
// its depth in USD.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
)

// Router errors.
var (
	// ErrPoolNotFound is returned when every probe missed.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrInsufficientLiquidity is returned when a pool is shallower than the threshold.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// PoolReader is the on-chain read surface the router needs.
type PoolReader interface {
	// V3Pool returns the concentrated-liquidity pool for the pair and fee tier,
	// or the zero address when none exists.
	V3Pool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
	// V2Pair returns the constant-product pair, or the zero address.
	V2Pair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// NativePricer returns the USD price of the base asset.
type NativePricer interface {
	NativeUSD(ctx context.Context) (float64, error)
}

// Asset is a quote asset candidate.
type Asset struct {
	Symbol  string
	Address common.Address
	Stable  bool // valued at 1 USD
}

// Config configures the router.
type Config struct {
	FeeTiers        []uint32 // probed in order
	Base            Asset
	AltQuote        *Asset // optional fallback quote asset
	MinLiquidityUSD float64
	CallTimeout     time.Duration
}

// Router implements pool discovery across protocol versions.
type Router struct {
	cfg    Config
	reader PoolReader
	pricer NativePricer
	logger zerolog.Logger

	decMu    sync.RWMutex
	decimals map[common.Address]uint8
}

// New creates a Router.
func New(cfg Config, reader PoolReader, pricer NativePricer, logger zerolog.Logger) *Router {
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = []uint32{500, 3000, 10000}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Router{
		cfg:      cfg,
		reader:   reader,
		pricer:   pricer,
		logger:   logger.With().Str("component", "router").Logger(),
		decimals: make(map[common.Address]uint8),
	}
}

// Base returns the configured base asset.
func (r *Router) Base() Asset {
	return r.cfg.Base
}

// FindPool probes v3 fee tiers in order, then the v2 factory. When tokenB is
// the base asset and an alternate quote asset is configured, the search is
// repeated against it. Returns ErrPoolNotFound if every probe misses.
func (r *Router) FindPool(ctx context.Context, tokenA, tokenB common.Address) (domain.Pool, error) {
	pool, err := r.probe(ctx, tokenA, tokenB)
	if err == nil || !errors.Is(err, ErrPoolNotFound) {
		return pool, err
	}

	alt := r.cfg.AltQuote
	if alt == nil || tokenB != r.cfg.Base.Address || alt.Address == tokenA {
		return domain.Pool{}, err
	}

	r.logger.Debug().Str("token", tokenA.Hex()).Str("quote", alt.Symbol).Msg("no base pool, retrying with alternate quote")
	return r.probe(ctx, tokenA, alt.Address)
}

func (r *Router) probe(ctx context.Context, tokenA, tokenB common.Address) (domain.Pool, error) {
	quoteSym := r.symbolOf(tokenB)

	for _, fee := range r.cfg.FeeTiers {
		addr, err := r.v3(ctx, tokenA, tokenB, fee)
		if err != nil {
			r.logger.Debug().Err(err).Uint32("fee", fee).Str("token", tokenA.Hex()).Msg("v3 probe failed")
			continue
		}
		if addr != (common.Address{}) {
			return domain.Pool{
				Address:  addr.Hex(),
				Version:  domain.ProtocolV3,
				Fee:      fee,
				TokenIn:  tokenA.Hex(),
				Quote:    tokenB.Hex(),
				QuoteSym: quoteSym,
			}, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	addr, err := r.reader.V2Pair(callCtx, tokenA, tokenB)
	if err != nil {
		r.logger.Debug().Err(err).Str("token", tokenA.Hex()).Msg("v2 probe failed")
	}
	if err == nil && addr != (common.Address{}) {
		return domain.Pool{
			Address:  addr.Hex(),
			Version:  domain.ProtocolV2,
			TokenIn:  tokenA.Hex(),
			Quote:    tokenB.Hex(),
			QuoteSym: quoteSym,
		}, nil
	}

	return domain.Pool{}, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, tokenA.Hex(), quoteSym)
}

func (r *Router) v3(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.reader.V3Pool(callCtx, tokenA, tokenB, fee)
}

func (r *Router) symbolOf(addr common.Address) string {
	if addr == r.cfg.Base.Address {
		return r.cfg.Base.Symbol
	}
	if r.cfg.AltQuote != nil && addr == r.cfg.AltQuote.Address {
		return r.cfg.AltQuote.Symbol
	}
	return addr.Hex()
}

// LiquidityUSD values the quote-asset side held by the pool. Any read
// failure yields 0.
func (r *Router) LiquidityUSD(ctx context.Context, pool domain.Pool) float64 {
	if !pool.Found() {
		return 0
	}
	quote := common.HexToAddress(pool.Quote)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	bal, err := r.reader.BalanceOf(callCtx, quote, common.HexToAddress(pool.Address))
	if err != nil || bal == nil {
		r.logger.Debug().Err(err).Str("pool", pool.Address).Msg("pool balance read failed")
		return 0
	}
	dec, err := r.Decimals(callCtx, quote)
	if err != nil {
		return 0
	}

	price := 1.0
	if !r.isStable(quote) {
		price, err = r.pricer.NativeUSD(callCtx)
		if err != nil || price <= 0 {
			r.logger.Debug().Err(err).Msg("native price unavailable")
			return 0
		}
	}

	amount, _ := decimal.NewFromBigInt(bal, -int32(dec)).Float64()
	return amount * price
}

func (r *Router) isStable(addr common.Address) bool {
	if addr == r.cfg.Base.Address {
		return r.cfg.Base.Stable
	}
	return r.cfg.AltQuote != nil && addr == r.cfg.AltQuote.Address && r.cfg.AltQuote.Stable
}

// Decimals returns token decimals, cached after the first read.
func (r *Router) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	r.decMu.RLock()
	d, ok := r.decimals[token]
	r.decMu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := r.reader.Decimals(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("read decimals %s: %w", token.Hex(), err)
	}
	r.decMu.Lock()
	r.decimals[token] = d
	r.decMu.Unlock()
	return d, nil
}

// CheckLiquidity finds a pool for token against the base asset and verifies
// it holds at least MinLiquidityUSD.
func (r *Router) CheckLiquidity(ctx context.Context, token common.Address) (domain.Pool, float64, error) {
	return r.CheckLiquidityMin(ctx, token, r.cfg.MinLiquidityUSD)
}

// CheckLiquidityMin is CheckLiquidity with an explicit threshold.
func (r *Router) CheckLiquidityMin(ctx context.Context, token common.Address, minUSD float64) (domain.Pool, float64, error) {
	pool, err := r.FindPool(ctx, token, r.cfg.Base.Address)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	liq := r.LiquidityUSD(ctx, pool)
	if liq < minUSD {
		return pool, liq, fmt.Errorf("%w: $%.2f < $%.2f in %s", ErrInsufficientLiquidity, liq, minUSD, pool.Address)
	}
	return pool, liq, nil
}
