package scheduler

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/execution"
)

// tradeChecks runs exits for held symbols and entries for the rest. Hot and
// held symbols are checked every cycle, watch symbols only when includeWatch
// is set. Sells run first, then buys in score order, one at a time so each
// buy sizes against the balance left by the previous one.
func (s *Scheduler) tradeChecks(ctx context.Context, evals []domain.Evaluation, includeWatch bool, logger zerolog.Logger) []TradeSummary {
	eligible := make(map[string]struct{})
	for _, sym := range s.universe.Hot() {
		eligible[sym] = struct{}{}
	}
	if includeWatch {
		for _, sym := range s.universe.Watch() {
			eligible[sym] = struct{}{}
		}
	}
	for _, sym := range s.ledger.Held() {
		eligible[sym] = struct{}{}
	}

	var sells, buys []domain.Evaluation
	for _, ev := range evals {
		if _, ok := eligible[ev.Symbol]; !ok {
			continue
		}
		if !s.tradable(ctx, ev, logger) {
			continue
		}
		if s.ledger.Holds(ev.Symbol) {
			if ev.Price > 0 {
				sells = append(sells, ev)
			}
		} else if ev.ShouldBuy && s.warm(ev) {
			buys = append(buys, ev)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Score > buys[j].Score })

	var out []TradeSummary
	for _, ev := range sells {
		if sum, ok := s.checkExit(ctx, ev, logger); ok {
			out = append(out, sum)
		}
	}
	for _, ev := range buys {
		if sum, ok := s.enter(ctx, ev, logger); ok {
			out = append(out, sum)
		}
	}
	return out
}

// tradable filters base/quote assets and disabled symbols.
func (s *Scheduler) tradable(ctx context.Context, ev domain.Evaluation, logger zerolog.Logger) bool {
	if _, ok := s.skip[ev.Symbol]; ok {
		return false
	}
	if s.breaker != nil && s.breaker.Disabled(ctx, ev.Symbol) {
		logger.Debug().Str("symbol", ev.Symbol).Msg("symbol disabled, trade check skipped")
		return false
	}
	return true
}

// warm reports whether the history is long enough to act on signals.
// Stop-loss and take-profit only need the current price.
func (s *Scheduler) warm(ev domain.Evaluation) bool {
	return len(ev.Closes) >= s.cfg.MinCloses
}

func (s *Scheduler) checkExit(ctx context.Context, ev domain.Evaluation, logger zerolog.Logger) (TradeSummary, bool) {
	pos, ok := s.ledger.Position(ev.Symbol)
	if !ok {
		return TradeSummary{}, false
	}

	trigger, exit := s.risk.Exit(ev.Symbol, ev.Price)
	if !exit && ev.ShouldSell && s.warm(ev) {
		trigger, exit = domain.TriggerSellSignal, true
	}
	if !exit {
		return TradeSummary{}, false
	}

	logger.Info().
		Str("symbol", ev.Symbol).
		Str("trigger", trigger).
		Float64("price", ev.Price).
		Strs("sell_signals", ev.SellSignals).
		Msg("exit triggered")

	res := s.executor.Sell(ctx, execution.Intent{
		Symbol:   ev.Symbol,
		Token:    common.HexToAddress(pos.Token),
		Amount:   pos.Quantity,
		PriceUSD: ev.Price,
		Trigger:  trigger,
		Simulate: s.cfg.Simulate,
	})
	return summarize(domain.ActionSell, ev.Symbol, res), true
}

func (s *Scheduler) enter(ctx context.Context, ev domain.Evaluation, logger zerolog.Logger) (TradeSummary, bool) {
	token, ok := s.universe.Token(ev.Symbol)
	if !ok {
		return TradeSummary{}, false
	}

	capital, err := s.baseCapital(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("symbol", ev.Symbol).Msg("buy sizing unavailable")
		return TradeSummary{}, false
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	baseUSD, err := s.native.NativeUSD(callCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("symbol", ev.Symbol).Msg("base price unavailable")
		return TradeSummary{}, false
	}

	amount := s.risk.PositionSize(ev.Score, capital, baseUSD)
	if !amount.IsPositive() {
		logger.Debug().
			Str("symbol", ev.Symbol).
			Str("capital", capital.String()).
			Msg("position size below minimum, buy skipped")
		return TradeSummary{}, false
	}

	logger.Info().
		Str("symbol", ev.Symbol).
		Int("score", ev.Score).
		Strs("signals", ev.Signals).
		Str("amount", amount.String()).
		Msg("buy signal")

	res := s.executor.Buy(ctx, execution.Intent{
		Symbol:   ev.Symbol,
		Token:    common.HexToAddress(token.Address),
		Amount:   amount,
		PriceUSD: ev.Price,
		Trigger:  domain.TriggerSignal,
		Simulate: s.cfg.Simulate,
	})
	return summarize(domain.ActionBuy, ev.Symbol, res), true
}

func summarize(action domain.Action, symbol string, res execution.Result) TradeSummary {
	return TradeSummary{
		Symbol:    symbol,
		Action:    action,
		Outcome:   res.Outcome,
		Reason:    res.Reason,
		Simulated: res.Simulated,
		TxHash:    res.TxHash,
	}
}
