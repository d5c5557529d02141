// Package execution runs one buy or sell intent through the guarded swap
// pipeline and records its terminal outcome.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/gas"
	"dex-trade-agent/internal/observability"
	"dex-trade-agent/internal/retry"
)

// ErrReverted marks a mined transaction with a failed status.
var ErrReverted = errors.New("transaction reverted")

// Chain is the wallet-bound chain surface used by the engine.
//
// Swap and Approve must wrap any error that occurs after the transaction was
// broadcast with retry.Permanent, so a timeout while waiting for a receipt is
// never resubmitted.
type Chain interface {
	WalletBalance(ctx context.Context, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (domain.SwapReceipt, error)
	Spender(version domain.ProtocolVersion) common.Address
	Quote(ctx context.Context, req domain.SwapRequest) (*big.Int, error)
	SimulateSwap(ctx context.Context, req domain.SwapRequest) error
	Swap(ctx context.Context, req domain.SwapRequest) (domain.SwapReceipt, error)
}

// PoolFinder locates pools and measures their depth.
type PoolFinder interface {
	FindPool(ctx context.Context, tokenA, tokenB common.Address) (domain.Pool, error)
	LiquidityUSD(ctx context.Context, pool domain.Pool) float64
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// GasPricer returns the current gas price in wei.
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// NativePricer returns the base asset's USD price.
type NativePricer interface {
	NativeUSD(ctx context.Context) (float64, error)
}

// Breaker is the per-symbol circuit breaker.
type Breaker interface {
	Disabled(ctx context.Context, symbol string) bool
	RecordFailure(ctx context.Context, symbol string) bool
	RecordSuccess(ctx context.Context, symbol string)
}

// Recorder persists every outcome.
type Recorder interface {
	Record(ctx context.Context, e *domain.TradeLogEntry) error
}

// Positions reads open positions for realized PnL.
type Positions interface {
	Position(symbol string) (domain.Position, bool)
}

// Config holds execution parameters.
type Config struct {
	SlippageBps     int64   // tolerated quote deviation
	MaxGasGwei      float64 // gas price ceiling
	MinTradeUSD     float64
	MinLiquidityUSD float64
	TakeProfitPct   float64 // a buy whose break-even exceeds this is rejected
	SwapGasUnits    uint64
	ApproveGasUnits uint64
	CallTimeout     time.Duration // per chain read
	TxTimeout       time.Duration // per submit-and-confirm attempt
	Paper           bool          // force simulate-only
	Retry           retry.Policy
	BaseAsset       common.Address
	StableQuotes    []common.Address // quote assets valued at 1 USD
	SellTo          common.Address   // quote asset received on sells
}

// DefaultConfig returns production execution settings.
func DefaultConfig() Config {
	return Config{
		SlippageBps:     100,
		MaxGasGwei:      80,
		MinTradeUSD:     10,
		MinLiquidityUSD: 5,
		TakeProfitPct:   0.08,
		SwapGasUnits:    250000,
		ApproveGasUnits: 60000,
		CallTimeout:     15 * time.Second,
		TxTimeout:       3 * time.Minute,
		Retry:           retry.DefaultPolicy(),
	}
}

// Intent is one requested trade.
type Intent struct {
	Symbol   string
	Token    common.Address
	Amount   decimal.Decimal // buy: base-asset units to spend; sell: token units (zero sells the full balance)
	PriceUSD float64         // token price at decision time
	Trigger  string          // recorded as the reason on success
	Simulate bool
}

// Result is the terminal state of an intent.
type Result struct {
	Outcome   domain.Outcome
	Reason    string
	Simulated bool
	TxHash    string
	Filled    decimal.Decimal
	Entry     *domain.TradeLogEntry
	Err       error
}

// Engine executes intents. Distinct symbols may run concurrently; callers
// serialize intents for the same symbol.
type Engine struct {
	cfg       Config
	chain     Chain
	pools     PoolFinder
	gasPrice  GasPricer
	native    NativePricer
	tracker   *gas.Tracker
	breaker   Breaker
	recorder  Recorder
	positions Positions
	logger    zerolog.Logger
	now       func() time.Time
}

// Deps groups the engine's collaborators.
type Deps struct {
	Chain     Chain
	Pools     PoolFinder
	GasPrice  GasPricer
	Native    NativePricer
	Tracker   *gas.Tracker
	Breaker   Breaker
	Recorder  Recorder
	Positions Positions
	Logger    zerolog.Logger
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 3 * time.Minute
	}
	if cfg.SellTo == (common.Address{}) {
		cfg.SellTo = cfg.BaseAsset
	}
	if deps.Tracker == nil {
		deps.Tracker = gas.NewTracker(gas.DefaultConfig())
	}
	return &Engine{
		cfg:       cfg,
		chain:     deps.Chain,
		pools:     deps.Pools,
		gasPrice:  deps.GasPrice,
		native:    deps.Native,
		tracker:   deps.Tracker,
		breaker:   deps.Breaker,
		recorder:  deps.Recorder,
		positions: deps.Positions,
		logger:    deps.Logger.With().Str("component", "execution").Logger(),
		now:       time.Now,
	}
}

// Paper reports whether the engine forces simulation.
func (e *Engine) Paper() bool {
	return e.cfg.Paper
}

// trade carries one intent through the state machine.
type trade struct {
	action    domain.Action
	intent    Intent
	simulated bool
	qty       decimal.Decimal
	price     float64 // realized fill price, zero until known
	txHash    string
}

func (e *Engine) reject(ctx context.Context, t *trade, reason string, err error) Result {
	return e.finish(ctx, t, domain.OutcomeRejected, reason, err)
}

func (e *Engine) fail(ctx context.Context, t *trade, reason string, err error) Result {
	return e.finish(ctx, t, domain.OutcomeFailed, reason, err)
}

// finish records the outcome, then feeds the breaker. Simulated intents
// only report missing or shallow pools, which are real chain state.
func (e *Engine) finish(ctx context.Context, t *trade, outcome domain.Outcome, reason string, err error) Result {
	price := t.intent.PriceUSD
	if t.price > 0 {
		price = t.price
	}
	entry := &domain.TradeLogEntry{
		Timestamp: e.now().UnixMilli(),
		Action:    t.action,
		Symbol:    t.intent.Symbol,
		Token:     t.intent.Token.Hex(),
		Quantity:  t.qty,
		Price:     price,
		Outcome:   outcome,
		Reason:    reason,
		TxHash:    t.txHash,
		Simulated: t.simulated,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if e.positions != nil {
		if p, ok := e.positions.Position(t.intent.Symbol); ok {
			entry.PnLPct = p.UnrealizedPct(t.intent.PriceUSD)
		}
	}

	if recErr := e.recorder.Record(ctx, entry); recErr != nil {
		e.logger.Error().Err(recErr).Str("symbol", entry.Symbol).Msg("record outcome")
	}

	if e.breaker != nil {
		switch {
		case outcome == domain.OutcomeSuccess && !t.simulated:
			e.breaker.RecordSuccess(ctx, t.intent.Symbol)
		case reason == domain.ReasonLiquidity, !t.simulated && LiquidityRelated(reason, err):
			e.breaker.RecordFailure(ctx, t.intent.Symbol)
		}
	}

	res := Result{
		Outcome:   outcome,
		Reason:    reason,
		Simulated: t.simulated,
		TxHash:    t.txHash,
		Filled:    decimal.Zero,
		Entry:     entry,
		Err:       err,
	}
	if outcome == domain.OutcomeSuccess {
		res.Filled = t.qty
	}
	return res
}

// LiquidityRelated reports whether an outcome counts toward the breaker.
func LiquidityRelated(reason string, err error) bool {
	if reason == domain.ReasonLiquidity {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "liquidity") || strings.Contains(msg, "transfer_from_failed")
}

// preflight runs the breaker and gas ceiling checks (steps 1-2).
func (e *Engine) preflight(ctx context.Context, t *trade) (*big.Int, *Result) {
	if e.breaker != nil && e.breaker.Disabled(ctx, t.intent.Symbol) {
		r := e.reject(ctx, t, domain.ReasonDisabled, nil)
		return nil, &r
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	price, err := e.gasPrice.GasPrice(callCtx)
	if err != nil {
		r := e.reject(ctx, t, domain.ReasonGas, fmt.Errorf("gas price: %w", err))
		return nil, &r
	}
	gwei := gas.Gwei(price)
	observability.UpdateGasPrice(gwei)
	if e.cfg.MaxGasGwei > 0 && gwei > e.cfg.MaxGasGwei {
		r := e.reject(ctx, t, domain.ReasonGas, fmt.Errorf("gas %.2f gwei above ceiling %.2f", gwei, e.cfg.MaxGasGwei))
		return nil, &r
	}
	return price, nil
}

// quote fetches the expected output with retries and sets req.MinOut after
// slippage (step 5). It returns the raw quoted output.
func (e *Engine) quote(ctx context.Context, req *domain.SwapRequest) (*big.Int, error) {
	res := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (*big.Int, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		return e.chain.Quote(callCtx, *req)
	})
	if !res.OK() {
		return nil, fmt.Errorf("quote: %w", res.Err)
	}
	if res.Value == nil || res.Value.Sign() <= 0 {
		return nil, errors.New("quote returned zero output")
	}
	req.MinOut = MinOut(res.Value, e.cfg.SlippageBps)
	if req.MinOut.Sign() <= 0 {
		return nil, errors.New("minimum output rounds to zero")
	}
	return res.Value, nil
}

// MinOut returns quote * (10000 - bps) / 10000.
func MinOut(quote *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(quote, big.NewInt(10000-bps))
	return out.Div(out, big.NewInt(10000))
}

// approve grants spender an allowance of req.AmountIn (step 8).
func (e *Engine) approve(ctx context.Context, req domain.SwapRequest, spender common.Address) error {
	res := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (domain.SwapReceipt, error) {
		txCtx, cancel := context.WithTimeout(ctx, e.cfg.TxTimeout)
		defer cancel()
		rcpt, err := e.chain.Approve(txCtx, req.TokenIn, spender, req.AmountIn)
		if err == nil && rcpt.Status != 1 {
			return rcpt, retry.Permanent(fmt.Errorf("approve %s: %w", rcpt.TxHash, ErrReverted))
		}
		return rcpt, err
	})
	if !res.OK() {
		return res.Err
	}
	e.logger.Info().Str("token", req.TokenIn.Hex()).Str("tx_hash", res.Value.TxHash).Msg("router approved")
	return nil
}

func (e *Engine) needsApproval(ctx context.Context, req domain.SwapRequest, spender common.Address) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	allowance, err := e.chain.Allowance(callCtx, req.TokenIn, spender)
	if err != nil {
		return false, fmt.Errorf("read allowance: %w", err)
	}
	return allowance == nil || allowance.Cmp(req.AmountIn) < 0, nil
}

// submit sends the swap with bounded retries and returns the change in
// watch's balance across it (steps 9-10).
//
// A swap that fails after it may have been broadcast (a known hash or a
// permanent error) is still reconciled against the wallet: the delta is
// returned together with the error. A nil delta means nothing could be
// measured.
func (e *Engine) submit(ctx context.Context, t *trade, req domain.SwapRequest, watch common.Address) (*big.Int, error) {
	pre, err := e.balance(ctx, watch)
	if err != nil {
		return nil, err
	}

	res := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (domain.SwapReceipt, error) {
		txCtx, cancel := context.WithTimeout(ctx, e.cfg.TxTimeout)
		defer cancel()
		rcpt, err := e.chain.Swap(txCtx, req)
		if rcpt.TxHash != "" {
			t.txHash = rcpt.TxHash
		}
		if err == nil && rcpt.Status != 1 {
			return rcpt, retry.Permanent(fmt.Errorf("swap %s: %w", rcpt.TxHash, ErrReverted))
		}
		return rcpt, err
	})
	if !res.OK() && t.txHash == "" && !retry.IsPermanent(res.Err) {
		return nil, res.Err
	}

	post, err := e.balance(ctx, watch)
	if err != nil {
		return nil, errors.Join(res.Err, fmt.Errorf("post-trade balance: %w", err))
	}
	return new(big.Int).Sub(post, pre), res.Err
}

// settle turns a submit result into the trade's terminal outcome. A positive
// filled amount is a success even when the receipt wait failed.
func (e *Engine) settle(ctx context.Context, t *trade, filled *big.Int, dec uint8, err error) Result {
	switch {
	case filled == nil:
		return e.fail(ctx, t, domain.ReasonSubmit, err)
	case filled.Sign() <= 0 && err != nil:
		return e.fail(ctx, t, domain.ReasonSubmit, err)
	case filled.Sign() <= 0:
		return e.fail(ctx, t, domain.ReasonNoFill, fmt.Errorf("token balance unchanged after %s", t.txHash))
	}
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("symbol", t.intent.Symbol).
			Str("tx_hash", t.txHash).
			Msg("swap error after broadcast but the wallet shows a fill")
	}
	t.qty = fromUnits(filled, dec)
	return e.finish(ctx, t, domain.OutcomeSuccess, t.intent.Trigger, nil)
}

func (e *Engine) balance(ctx context.Context, token common.Address) (*big.Int, error) {
	res := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) (*big.Int, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		return e.chain.WalletBalance(callCtx, token)
	})
	if !res.OK() {
		return nil, fmt.Errorf("read balance %s: %w", token.Hex(), res.Err)
	}
	return res.Value, nil
}

func (e *Engine) decimals(ctx context.Context, token common.Address) (uint8, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.pools.Decimals(callCtx, token)
}

// quoteUSD returns the USD price of a quote asset.
func (e *Engine) quoteUSD(ctx context.Context, asset common.Address) (float64, error) {
	for _, s := range e.cfg.StableQuotes {
		if s == asset {
			return 1, nil
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	p, err := e.native.NativeUSD(callCtx)
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return 0, errors.New("non-positive native price")
	}
	return p, nil
}

// locate finds a pool for token against quote and checks its depth (step 4).
func (e *Engine) locate(ctx context.Context, token, quote common.Address) (domain.Pool, float64, error) {
	pool, err := e.pools.FindPool(ctx, token, quote)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	liq := e.pools.LiquidityUSD(ctx, pool)
	if liq < e.cfg.MinLiquidityUSD {
		return pool, liq, fmt.Errorf("pool %s liquidity $%.2f below $%.2f", pool.Address, liq, e.cfg.MinLiquidityUSD)
	}
	return pool, liq, nil
}

// toUnits converts a human amount to on-chain units, truncating.
func toUnits(amount decimal.Decimal, dec uint8) *big.Int {
	return amount.Shift(int32(dec)).Truncate(0).BigInt()
}

// fromUnits converts on-chain units to a human amount.
func fromUnits(amount *big.Int, dec uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(dec))
}
