// Package risk tracks entry prices and high-water marks per symbol and sizes
// new positions against available capital.
package risk

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
)

// Config holds risk thresholds. Percentages are fractions (0.04 = 4%).
type Config struct {
	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64
	MaxAllocation   float64 // fraction of capital committed at the top score
	MinTradeUSD     float64
}

// DefaultConfig returns 4% stop, 8% target, 2% trail, 15% allocation, $10 floor.
func DefaultConfig() Config {
	return Config{
		StopLossPct:     0.04,
		TakeProfitPct:   0.08,
		TrailingStopPct: 0.02,
		MaxAllocation:   0.15,
		MinTradeUSD:     10,
	}
}

// mark is the per-symbol risk state.
type mark struct {
	entry     float64
	highWater float64
}

// Manager evaluates exits for open positions and sizes entries.
type Manager struct {
	cfg   Config
	mu    sync.RWMutex
	marks map[string]*mark
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, marks: make(map[string]*mark)}
}

// Config returns the thresholds.
func (m *Manager) Config() Config {
	return m.cfg
}

// RecordEntry sets entry and high-water to price.
// Called once per opened position.
func (m *Manager) RecordEntry(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[symbol] = &mark{entry: price, highWater: price}
}

// Restore reinstates state rebuilt from the trade log.
func (m *Manager) Restore(symbol string, entry, highWater float64) {
	if highWater < entry {
		highWater = entry
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[symbol] = &mark{entry: entry, highWater: highWater}
}

// Forget drops the symbol's state after a full exit.
func (m *Manager) Forget(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks, symbol)
}

// Entry returns the recorded entry price.
func (m *Manager) Entry(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.marks[symbol]
	if !ok {
		return 0, false
	}
	return mk.entry, true
}

// HighWater returns the highest price seen since entry.
func (m *Manager) HighWater(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mk, ok := m.marks[symbol]; ok {
		return mk.highWater
	}
	return 0
}

// StopLoss reports price < entry * (1 - StopLossPct).
func (m *Manager) StopLoss(symbol string, price float64) bool {
	entry, ok := m.Entry(symbol)
	if !ok {
		return false
	}
	return price < entry*(1-m.cfg.StopLossPct)
}

// TakeProfit updates the high-water mark and reports either the hard target
// or a trailing stop hit above entry.
func (m *Manager) TakeProfit(symbol string, price float64) bool {
	_, ok := m.takeProfit(symbol, price)
	return ok
}

func (m *Manager) takeProfit(symbol string, price float64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.marks[symbol]
	if !ok {
		return "", false
	}
	if price > mk.highWater {
		mk.highWater = price
	}

	if price >= mk.entry*(1+m.cfg.TakeProfitPct) {
		return domain.TriggerTakeProfit, true
	}
	if price < mk.highWater*(1-m.cfg.TrailingStopPct) && price > mk.entry {
		return domain.TriggerTrailingStop, true
	}
	return "", false
}

// Exit evaluates stop-loss first, then take-profit and trailing stop.
// It returns the trigger name when an exit is due.
func (m *Manager) Exit(symbol string, price float64) (string, bool) {
	if m.StopLoss(symbol, price) {
		return domain.TriggerStopLoss, true
	}
	return m.takeProfit(symbol, price)
}

// PositionSize returns the amount of capital to commit for a buy.
//
// The score is clamped to [1,3] and scales MaxAllocation linearly. The result
// is zero when capital or refPrice is not positive, or when the notional
// value (amount * refPrice) is below MinTradeUSD.
func (m *Manager) PositionSize(score int, capital decimal.Decimal, refPrice float64) decimal.Decimal {
	if !capital.IsPositive() || refPrice <= 0 {
		return decimal.Zero
	}

	s := min(max(score, 1), 3)
	fraction := decimal.NewFromFloat(m.cfg.MaxAllocation).Mul(decimal.NewFromInt(int64(s))).Div(decimal.NewFromInt(3))
	amount := capital.Mul(fraction)

	value := amount.Mul(decimal.NewFromFloat(refPrice))
	if value.LessThan(decimal.NewFromFloat(m.cfg.MinTradeUSD)) {
		return decimal.Zero
	}
	return amount
}

// GasReserve returns gasPrice * gasUnits in native units (18 decimals).
func GasReserve(gasPriceWei *big.Int, gasUnits uint64) decimal.Decimal {
	if gasPriceWei == nil {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasUnits))
	return decimal.NewFromBigInt(wei, -18)
}

// Open returns the symbols with recorded entries.
func (m *Manager) Open() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.marks))
	for s := range m.marks {
		out = append(out, s)
	}
	return out
}
