// Package ledger maintains open positions from fills and rebuilds them from
// the persisted trade log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// Ledger errors.
var (
	ErrInvalidFill = errors.New("invalid fill")
	ErrNoPosition  = errors.New("no open position")
)

// Ledger holds one Position per symbol. Safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	skip      map[string]struct{}
}

// New creates an empty ledger. Fills for skip symbols (the base and quote
// assets) are ignored, so they never appear as positions.
func New(skip ...string) *Ledger {
	l := &Ledger{
		positions: make(map[string]*domain.Position),
		skip:      make(map[string]struct{}, len(skip)),
	}
	for _, s := range skip {
		l.skip[domain.NormalizeSymbol(s)] = struct{}{}
	}
	return l
}

// Skipped reports whether symbol is excluded from position tracking.
func (l *Ledger) Skipped(symbol string) bool {
	_, ok := l.skip[domain.NormalizeSymbol(symbol)]
	return ok
}

// ApplyBuy adds a fill at price (USD per token) and recomputes the
// weighted-average cost.
func (l *Ledger) ApplyBuy(symbol, token string, qty decimal.Decimal, price float64, atMs int64) (domain.Position, error) {
	if !qty.IsPositive() || price <= 0 {
		return domain.Position{}, fmt.Errorf("%w: buy %s qty=%s price=%f", ErrInvalidFill, symbol, qty, price)
	}
	fillPrice := decimal.NewFromFloat(price)

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		p = &domain.Position{
			Symbol:    symbol,
			Token:     token,
			Quantity:  qty,
			AvgCost:   fillPrice,
			HighWater: price,
			OpenedAt:  atMs,
			UpdatedAt: atMs,
		}
		l.positions[symbol] = p
		return *p, nil
	}

	total := p.Quantity.Add(qty)
	p.AvgCost = p.AvgCost.Mul(p.Quantity).Add(fillPrice.Mul(qty)).Div(total)
	p.Quantity = total
	if price > p.HighWater {
		p.HighWater = price
	}
	if token != "" {
		p.Token = token
	}
	p.UpdatedAt = atMs
	return *p, nil
}

// ApplySell removes qty (capped at the held quantity). The average cost is
// unchanged, so cost basis shrinks proportionally. Returns closed=true when
// the position was removed.
func (l *Ledger) ApplySell(symbol string, qty decimal.Decimal, atMs int64) (pos domain.Position, closed bool, err error) {
	if !qty.IsPositive() {
		return domain.Position{}, false, fmt.Errorf("%w: sell %s qty=%s", ErrInvalidFill, symbol, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	p.Quantity = p.Quantity.Sub(decimal.Min(qty, p.Quantity))
	p.UpdatedAt = atMs
	if !p.Quantity.IsPositive() {
		delete(l.positions, symbol)
		out := *p
		out.Quantity = decimal.Zero
		return out, true, nil
	}
	return *p, false, nil
}

// Mark raises the position's high-water mark to price.
func (l *Ledger) Mark(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok && price > p.HighWater {
		p.HighWater = price
	}
}

// Apply replays one trade log entry. Entries that do not count (rejections,
// failures, simulations, zero quantity) and skipped symbols are ignored.
func (l *Ledger) Apply(e *domain.TradeLogEntry) error {
	if e == nil || !e.Counts() || l.Skipped(e.Symbol) {
		return nil
	}
	switch e.Action {
	case domain.ActionBuy:
		_, err := l.ApplyBuy(e.Symbol, e.Token, e.Quantity, e.Price, e.Timestamp)
		return err
	case domain.ActionSell:
		_, _, err := l.ApplySell(e.Symbol, e.Quantity, e.Timestamp)
		return err
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidFill, e.Action)
	}
}

// Restore discards the current state and replays the full trade log.
// Replay errors for individual entries (a sell with no position, say) are
// skipped; the count of applied entries is returned.
func (l *Ledger) Restore(ctx context.Context, store storage.TradeLogStore) (int, error) {
	entries, err := store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load trade log: %w", err)
	}

	l.mu.Lock()
	l.positions = make(map[string]*domain.Position)
	l.mu.Unlock()

	applied := 0
	for _, e := range entries {
		if !e.Counts() || l.Skipped(e.Symbol) {
			continue
		}
		if err := l.Apply(e); err != nil {
			continue
		}
		applied++
	}
	return applied, nil
}

// Position returns a copy of the position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions ordered by symbol.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Held returns the symbols with an open position, sorted.
func (l *Ledger) Held() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Holds reports whether symbol has an open position.
func (l *Ledger) Holds(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[symbol]
	return ok
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
