// Package gas tracks gas prices and the cost of trading under them.
package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// PriceSuggester is the RPC fallback used when no fresh head was observed.
type PriceSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Oracle serves the current gas price from block heads when fresh, and from
// the RPC suggestion otherwise.
type Oracle struct {
	fallback PriceSuggester
	maxAge   time.Duration
	tip      *big.Int
	now      func() time.Time

	mu      sync.RWMutex
	latest  *big.Int
	updated time.Time
}

// NewOracle creates an Oracle. tipWei is added to every observed base fee.
func NewOracle(fallback PriceSuggester, maxAge time.Duration, tipWei *big.Int) *Oracle {
	if tipWei == nil {
		tipWei = new(big.Int)
	}
	return &Oracle{fallback: fallback, maxAge: maxAge, tip: tipWei, now: time.Now}
}

// ObserveBaseFee records the base fee of a new head.
func (o *Oracle) ObserveBaseFee(baseFee *big.Int) {
	if baseFee == nil {
		return
	}
	price := new(big.Int).Add(baseFee, o.tip)
	o.mu.Lock()
	o.latest = price
	o.updated = o.now()
	o.mu.Unlock()
}

// GasPrice returns the gas price in wei.
func (o *Oracle) GasPrice(ctx context.Context) (*big.Int, error) {
	o.mu.RLock()
	latest, updated := o.latest, o.updated
	o.mu.RUnlock()

	if latest != nil && o.now().Sub(updated) <= o.maxAge {
		return new(big.Int).Set(latest), nil
	}
	if o.fallback == nil {
		return nil, fmt.Errorf("no fresh gas price and no fallback")
	}

	price, err := o.fallback.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	o.mu.Lock()
	o.latest = new(big.Int).Set(price)
	o.updated = o.now()
	o.mu.Unlock()
	return price, nil
}

// Gwei converts wei to gwei for display.
func Gwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}
