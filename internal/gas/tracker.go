package gas

import (
	"math/big"
	"sort"
	"sync"
	"time"
)

// Regime classifies recent gas cost.
type Regime string

// Gas regimes.
const (
	RegimeQuiet  Regime = "quiet"
	RegimeNormal Regime = "normal"
	RegimeBusy   Regime = "busy"
)

// Config holds the gas economics parameters.
type Config struct {
	Window        time.Duration // sample retention
	QuietUpToUSD  float64       // p70 round-trip gas USD at or below which the regime is quiet
	NormalUpToUSD float64       // p70 at or below which the regime is normal
	QuietBuffer   float64       // extra profit margin per regime (fraction)
	NormalBuffer  float64
	BusyBuffer    float64
	LPFeeIn       float64 // pool fee paid on entry (fraction)
	LPFeeOut      float64 // pool fee paid on exit (fraction)
	SlippageFrac  float64 // expected slippage per leg (fraction)
	GasBuffer     float64 // multiplier over the raw estimate
	MinPctFloor   float64 // lower bound of the min-profit fraction
}

// DefaultConfig returns the production gas economics.
func DefaultConfig() Config {
	return Config{
		Window:        5 * time.Minute,
		QuietUpToUSD:  5,
		NormalUpToUSD: 15,
		QuietBuffer:   0.005,
		NormalBuffer:  0.01,
		BusyBuffer:    0.02,
		LPFeeIn:       0.0005,
		LPFeeOut:      0.0005,
		SlippageFrac:  0.001,
		GasBuffer:     1.15,
		MinPctFloor:   0.003,
	}
}

type sample struct {
	at       time.Time
	totalUSD float64
}

// Tracker keeps a rolling window of round-trip gas cost samples.
type Tracker struct {
	cfg     Config
	mu      sync.Mutex
	samples []sample
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// EstimateUSD converts gas units at gasPriceWei into USD, including GasBuffer.
func (t *Tracker) EstimateUSD(gasPriceWei *big.Int, gasUnits uint64, nativeUSD float64) float64 {
	if gasPriceWei == nil {
		return 0
	}
	wei := new(big.Float).Mul(new(big.Float).SetInt(gasPriceWei), new(big.Float).SetUint64(gasUnits))
	native, _ := new(big.Float).Quo(wei, big.NewFloat(1e18)).Float64()
	return native * nativeUSD * t.cfg.GasBuffer
}

// Push records a round-trip gas cost sample and evicts expired ones.
func (t *Tracker) Push(totalUSD float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: at, totalUSD: totalUSD})
	t.evict(at)
}

func (t *Tracker) evict(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	t.samples = t.samples[i:]
}

// Regime classifies the window by its 70th percentile; normal when empty.
func (t *Tracker) Regime(now time.Time) Regime {
	t.mu.Lock()
	t.evict(now)
	values := make([]float64, len(t.samples))
	for i, s := range t.samples {
		values[i] = s.totalUSD
	}
	t.mu.Unlock()

	if len(values) == 0 {
		return RegimeNormal
	}
	sort.Float64s(values)
	p70 := values[int(0.7*float64(len(values)-1))]

	switch {
	case p70 <= t.cfg.QuietUpToUSD:
		return RegimeQuiet
	case p70 <= t.cfg.NormalUpToUSD:
		return RegimeNormal
	default:
		return RegimeBusy
	}
}

// MinProfitPct returns the fraction a trade of buySizeUSD must gain to cover
// pool fees, slippage, round-trip gas and the regime buffer.
func (t *Tracker) MinProfitPct(gasTotalUSD, buySizeUSD float64, now time.Time) (float64, Regime) {
	regime := t.Regime(now)
	if buySizeUSD <= 0 {
		return 1, regime
	}

	var buffer float64
	switch regime {
	case RegimeQuiet:
		buffer = t.cfg.QuietBuffer
	case RegimeBusy:
		buffer = t.cfg.BusyBuffer
	default:
		buffer = t.cfg.NormalBuffer
	}

	pct := t.cfg.LPFeeIn + t.cfg.LPFeeOut + 2*t.cfg.SlippageFrac + gasTotalUSD/buySizeUSD + buffer
	return max(pct, t.cfg.MinPctFloor), regime
}
