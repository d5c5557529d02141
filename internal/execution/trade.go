package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/observability"
)

// Buy spends in.Amount of the base asset on in.Token.
func (e *Engine) Buy(ctx context.Context, in Intent) Result {
	t := &trade{action: domain.ActionBuy, intent: in, simulated: in.Simulate || e.cfg.Paper}

	gasPrice, r := e.preflight(ctx, t)
	if r != nil {
		return *r
	}

	if !in.Amount.IsPositive() {
		return e.reject(ctx, t, domain.ReasonAmount, errors.New("non-positive buy amount"))
	}

	base := e.cfg.BaseAsset
	baseDec, err := e.decimals(ctx, base)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonBalance, err)
	}
	amountIn := toUnits(in.Amount, baseDec)
	bal, err := e.balance(ctx, base)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonBalance, err)
	}
	if bal.Cmp(amountIn) < 0 {
		return e.reject(ctx, t, domain.ReasonBalance,
			fmt.Errorf("base balance %s below %s", fromUnits(bal, baseDec), in.Amount))
	}

	pool, _, err := e.locate(ctx, in.Token, base)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonLiquidity, err)
	}

	// A pool quoted in the alternate asset is paid for in that asset, at
	// the same USD value.
	spendAsset := common.HexToAddress(pool.Quote)
	if spendAsset != base {
		amountIn, err = e.convertSpend(ctx, in.Amount, base, spendAsset)
		if err != nil {
			return e.reject(ctx, t, domain.ReasonBalance, err)
		}
		altBal, err := e.balance(ctx, spendAsset)
		if err != nil {
			return e.reject(ctx, t, domain.ReasonBalance, err)
		}
		if altBal.Cmp(amountIn) < 0 {
			return e.reject(ctx, t, domain.ReasonBalance,
				fmt.Errorf("%s balance too low for pool %s", pool.QuoteSym, pool.Address))
		}
	}

	req := domain.SwapRequest{Pool: pool, TokenIn: spendAsset, TokenOut: in.Token, AmountIn: amountIn}
	quoted, err := e.quote(ctx, &req)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonLiquidity, err)
	}

	tokenDec, err := e.decimals(ctx, in.Token)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonLiquidity, err)
	}
	t.qty = fromUnits(quoted, tokenDec)
	qtyF, _ := t.qty.Float64()
	valueUSD := qtyF * in.PriceUSD
	if valueUSD < e.cfg.MinTradeUSD {
		return e.reject(ctx, t, domain.ReasonAmount,
			fmt.Errorf("trade value $%.2f below $%.2f", valueUSD, e.cfg.MinTradeUSD))
	}

	if t.simulated {
		return e.simulate(ctx, t, req)
	}

	spender := e.chain.Spender(pool.Version)
	needApproval, err := e.needsApproval(ctx, req, spender)
	if err != nil {
		return e.fail(ctx, t, domain.ReasonApprove, err)
	}
	if err := e.checkGasBudget(ctx, gasPrice, needApproval, valueUSD); err != nil {
		return e.reject(ctx, t, domain.ReasonGas, err)
	}
	if needApproval {
		if err := e.approve(ctx, req, spender); err != nil {
			return e.fail(ctx, t, domain.ReasonApprove, err)
		}
	}

	delta, err := e.submit(ctx, t, req, in.Token)
	if delta != nil && delta.Sign() > 0 {
		t.price = e.fillPrice(ctx, amountIn, spendAsset, fromUnits(delta, tokenDec))
	}
	return e.settle(ctx, t, delta, tokenDec, err)
}

// Sell sells in.Amount of in.Token, or the full balance when Amount is zero.
// The amount is capped at the wallet balance.
func (e *Engine) Sell(ctx context.Context, in Intent) Result {
	t := &trade{action: domain.ActionSell, intent: in, simulated: in.Simulate || e.cfg.Paper, qty: in.Amount}

	if _, r := e.preflight(ctx, t); r != nil {
		return *r
	}

	tokenDec, err := e.decimals(ctx, in.Token)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonBalance, err)
	}
	bal, err := e.balance(ctx, in.Token)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonBalance, err)
	}
	held := fromUnits(bal, tokenDec)
	if !held.IsPositive() {
		return e.reject(ctx, t, domain.ReasonBalance, fmt.Errorf("no %s balance", in.Symbol))
	}
	if !in.Amount.IsPositive() || in.Amount.GreaterThan(held) {
		t.qty = held
	}
	amountIn := toUnits(t.qty, tokenDec)
	if amountIn.Sign() <= 0 {
		return e.reject(ctx, t, domain.ReasonBalance, errors.New("sell amount rounds to zero"))
	}

	pool, _, err := e.locate(ctx, in.Token, e.cfg.SellTo)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonLiquidity, err)
	}
	outAsset := common.HexToAddress(pool.Quote)

	req := domain.SwapRequest{Pool: pool, TokenIn: in.Token, TokenOut: outAsset, AmountIn: amountIn}
	quoted, err := e.quote(ctx, &req)
	if err != nil {
		return e.reject(ctx, t, domain.ReasonLiquidity, err)
	}

	valueUSD := e.sellValueUSD(ctx, quoted, outAsset, t.qty, in.PriceUSD)
	if valueUSD < e.cfg.MinTradeUSD {
		return e.reject(ctx, t, domain.ReasonAmount,
			fmt.Errorf("trade value $%.2f below $%.2f", valueUSD, e.cfg.MinTradeUSD))
	}

	if t.simulated {
		return e.simulate(ctx, t, req)
	}

	spender := e.chain.Spender(pool.Version)
	needApproval, err := e.needsApproval(ctx, req, spender)
	if err != nil {
		return e.fail(ctx, t, domain.ReasonApprove, err)
	}
	if needApproval {
		if err := e.approve(ctx, req, spender); err != nil {
			return e.fail(ctx, t, domain.ReasonApprove, err)
		}
	}

	delta, err := e.submit(ctx, t, req, in.Token)
	var sold *big.Int
	if delta != nil {
		sold = new(big.Int).Neg(delta)
	}
	return e.settle(ctx, t, sold, tokenDec, err)
}

// simulate replays the swap as a call (step 7). Nothing on chain or in the
// ledger changes.
func (e *Engine) simulate(ctx context.Context, t *trade, req domain.SwapRequest) Result {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.chain.SimulateSwap(callCtx, req); err != nil {
		return e.fail(ctx, t, domain.ReasonSimulate, err)
	}
	return e.finish(ctx, t, domain.OutcomeSuccess, t.intent.Trigger, nil)
}

// checkGasBudget samples the round-trip gas cost of a buy and rejects it when
// the break-even gain for the current regime reaches the take-profit target.
func (e *Engine) checkGasBudget(ctx context.Context, gasPrice *big.Int, withApproval bool, buyUSD float64) error {
	units := 2 * e.cfg.SwapGasUnits
	if withApproval {
		units += e.cfg.ApproveGasUnits
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	nativeUSD, err := e.native.NativeUSD(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("native price for gas budget: %w", err)
	}

	now := e.now()
	gasUSD := e.tracker.EstimateUSD(gasPrice, units, nativeUSD)
	e.tracker.Push(gasUSD, now)
	minPct, regime := e.tracker.MinProfitPct(gasUSD, buyUSD, now)
	observability.RecordGasRoundTrip(gasUSD, string(regime))

	if e.cfg.TakeProfitPct > 0 && minPct >= e.cfg.TakeProfitPct {
		return fmt.Errorf("break-even %.2f%% at %s gas reaches take-profit %.2f%%",
			minPct*100, regime, e.cfg.TakeProfitPct*100)
	}
	return nil
}

// convertSpend returns the amount of asset worth amount of base.
func (e *Engine) convertSpend(ctx context.Context, amount decimal.Decimal, base, asset common.Address) (*big.Int, error) {
	baseUSD, err := e.quoteUSD(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", base.Hex(), err)
	}
	assetUSD, err := e.quoteUSD(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", asset.Hex(), err)
	}
	dec, err := e.decimals(ctx, asset)
	if err != nil {
		return nil, err
	}
	converted := amount.Mul(decimal.NewFromFloat(baseUSD)).Div(decimal.NewFromFloat(assetUSD))
	return toUnits(converted, dec), nil
}

// fillPrice returns the USD paid per token received, or zero when the spent
// asset cannot be priced.
func (e *Engine) fillPrice(ctx context.Context, spent *big.Int, asset common.Address, received decimal.Decimal) float64 {
	if !received.IsPositive() {
		return 0
	}
	dec, err := e.decimals(ctx, asset)
	if err != nil {
		return 0
	}
	px, err := e.quoteUSD(ctx, asset)
	if err != nil {
		return 0
	}
	price, _ := fromUnits(spent, dec).Mul(decimal.NewFromFloat(px)).Div(received).Float64()
	return price
}

// sellValueUSD values a sell by its quoted output, falling back to the
// token price when the output asset cannot be priced.
func (e *Engine) sellValueUSD(ctx context.Context, quoted *big.Int, outAsset common.Address, qty decimal.Decimal, tokenUSD float64) float64 {
	dec, err := e.decimals(ctx, outAsset)
	if err == nil {
		if px, err := e.quoteUSD(ctx, outAsset); err == nil {
			out, _ := fromUnits(quoted, dec).Float64()
			return out * px
		}
	}
	q, _ := qty.Float64()
	return q * tokenUSD
}
