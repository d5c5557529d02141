package scheduler

import (
	"sort"
	"sync"
)

// DefaultHistoryCap is the number of closes kept per symbol.
const DefaultHistoryCap = 100

// PriceHistory keeps a bounded FIFO of closes per symbol.
type PriceHistory struct {
	cap    int
	mu     sync.RWMutex
	series map[string][]float64
}

// NewPriceHistory creates a PriceHistory holding at most capacity closes per symbol.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &PriceHistory{cap: capacity, series: make(map[string][]float64)}
}

// Append adds a close, dropping the oldest when full.
func (h *PriceHistory) Append(symbol string, price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := append(h.series[symbol], price)
	if len(s) > h.cap {
		s = append(s[:0:0], s[len(s)-h.cap:]...)
	}
	h.series[symbol] = s
}

// Seed replaces a symbol's closes, keeping the newest cap values.
func (h *PriceHistory) Seed(symbol string, closes []float64) {
	if len(closes) > h.cap {
		closes = closes[len(closes)-h.cap:]
	}
	h.mu.Lock()
	h.series[symbol] = append([]float64(nil), closes...)
	h.mu.Unlock()
}

// Closes returns a copy of the symbol's closes, oldest first.
func (h *PriceHistory) Closes(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]float64(nil), h.series[symbol]...)
}

// Len returns the number of closes held for symbol.
func (h *PriceHistory) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[symbol])
}

// Symbols returns the tracked symbols, sorted.
func (h *PriceHistory) Symbols() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.series))
	for s := range h.series {
		out = append(out, s)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}
