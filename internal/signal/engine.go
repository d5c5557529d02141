// Package signal turns a price history into a bounded buy score and a set of
// human-readable signal labels.
package signal

import (
	"errors"
	"fmt"
	"math"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/indicators"
)

// Signal labels.
const (
	LabelRSIBounce     = "RSI bounce"
	LabelSMACrossover  = "SMA crossover"
	LabelMACDMomentum  = "MACD histogram rising"
	LabelMomentum      = "Momentum"
	LabelRSIOverbought = "RSI overbought"
	LabelMACDBearish   = "MACD bearish crossover"
)

// MaxScore is the highest score Score can return.
const MaxScore = 4

// Zero-score policies. Floor assigns score 1 to every symbol of a batch in
// which nothing scored above zero.
const (
	ZeroScorePolicyKeep  = "keep"
	ZeroScorePolicyFloor = "floor"
)

// ErrInvalidConfig is returned for inconsistent indicator periods.
var ErrInvalidConfig = errors.New("invalid signal config")

// Config holds indicator periods and thresholds.
type Config struct {
	RSIPeriod         int
	Oversold          float64
	RecoverLevel      float64 // RSI level that counts as recovered after an oversold dip
	Overbought        float64
	BounceLookback    int // RSI values inspected for the oversold dip
	FastPeriod        int // fast SMA
	SlowPeriod        int // slow SMA
	MACDFast          int
	MACDSlow          int
	MACDSignal        int
	MomentumPeriod    int
	MomentumThreshold float64 // percent
	BuyThreshold      int
	MinHistory        int // 0 = derived from the slowest indicator
	ZeroScorePolicy   string
}

// DefaultConfig returns RSI(14), SMA(5/20), MACD(12,26,9) settings.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:         14,
		Oversold:          30,
		RecoverLevel:      30,
		Overbought:        70,
		BounceLookback:    5,
		FastPeriod:        5,
		SlowPeriod:        20,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		MomentumPeriod:    5,
		MomentumThreshold: 0.5,
		BuyThreshold:      2,
		ZeroScorePolicy:   ZeroScorePolicyKeep,
	}
}

// Engine scores price histories.
type Engine struct {
	cfg        Config
	minHistory int
}

// New creates an Engine. MinHistory is derived when zero.
func New(cfg Config) (*Engine, error) {
	if cfg.RSIPeriod <= 0 || cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod ||
		cfg.MACDFast <= 0 || cfg.MACDSlow <= cfg.MACDFast || cfg.MACDSignal <= 0 ||
		cfg.MomentumPeriod <= 0 || cfg.BounceLookback <= 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidConfig, cfg)
	}
	switch cfg.ZeroScorePolicy {
	case "":
		cfg.ZeroScorePolicy = ZeroScorePolicyKeep
	case ZeroScorePolicyKeep, ZeroScorePolicyFloor:
	default:
		return nil, fmt.Errorf("%w: unknown zero score policy %q", ErrInvalidConfig, cfg.ZeroScorePolicy)
	}

	minHistory := cfg.MinHistory
	if minHistory <= 0 {
		minHistory = max(cfg.RSIPeriod+1, cfg.SlowPeriod+1, cfg.MACDSlow+cfg.MACDSignal, cfg.MomentumPeriod+1)
	}
	return &Engine{cfg: cfg, minHistory: minHistory}, nil
}

// MinHistory returns the warm-up length below which Score returns zero.
func (e *Engine) MinHistory() int {
	return e.minHistory
}

// Threshold returns the buy threshold.
func (e *Engine) Threshold() int {
	return e.cfg.BuyThreshold
}

// Score evaluates one symbol's closes.
func (e *Engine) Score(symbol string, closes []float64) domain.Evaluation {
	ev := domain.Evaluation{Symbol: symbol, Closes: closes}
	if len(closes) > 0 {
		ev.Price = closes[len(closes)-1]
	}
	if len(closes) < e.minHistory {
		return ev
	}

	rsi := indicators.RSI(closes, e.cfg.RSIPeriod)
	curRSI := indicators.Last(rsi)

	if e.rsiBounce(rsi) {
		ev.Score++
		ev.Signals = append(ev.Signals, LabelRSIBounce)
	}

	fast := indicators.SMA(closes, e.cfg.FastPeriod)
	slow := indicators.SMA(closes, e.cfg.SlowPeriod)
	if crossedAbove(fast, slow) {
		ev.Score++
		ev.Signals = append(ev.Signals, LabelSMACrossover)
	}

	macd := indicators.MACD(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	hist, prevHist := indicators.Last(macd.Histogram), indicators.Prev(macd.Histogram, 1)
	if !math.IsNaN(hist) && (hist > 0 || (!math.IsNaN(prevHist) && hist > prevHist)) {
		ev.Score++
		ev.Signals = append(ev.Signals, LabelMACDMomentum)
	}

	mom := indicators.Last(indicators.Momentum(closes, e.cfg.MomentumPeriod))
	if !math.IsNaN(mom) && mom > e.cfg.MomentumThreshold {
		ev.Score++
		ev.Signals = append(ev.Signals, LabelMomentum)
	}

	if !math.IsNaN(curRSI) && curRSI > e.cfg.Overbought {
		ev.SellSignals = append(ev.SellSignals, LabelRSIOverbought)
	}
	if crossedAbove(macd.Signal, macd.Line) {
		ev.SellSignals = append(ev.SellSignals, LabelMACDBearish)
	}

	ev.ShouldBuy = ev.Score >= e.cfg.BuyThreshold
	ev.ShouldSell = len(ev.SellSignals) > 0
	return ev
}

// rsiBounce reports an oversold RSI within the look-back window followed by
// a current RSI at or above the recovery level.
func (e *Engine) rsiBounce(rsi []float64) bool {
	cur := indicators.Last(rsi)
	if math.IsNaN(cur) || cur < e.cfg.RecoverLevel {
		return false
	}
	for n := 1; n <= e.cfg.BounceLookback; n++ {
		v := indicators.Prev(rsi, n)
		if !math.IsNaN(v) && v < e.cfg.Oversold {
			return true
		}
	}
	return false
}

// crossedAbove reports a prior a <= b followed by a current a > b.
func crossedAbove(a, b []float64) bool {
	curA, curB := indicators.Last(a), indicators.Last(b)
	prevA, prevB := indicators.Prev(a, 1), indicators.Prev(b, 1)
	if math.IsNaN(curA) || math.IsNaN(curB) || math.IsNaN(prevA) || math.IsNaN(prevB) {
		return false
	}
	return prevA <= prevB && curA > curB
}

// ApplyZeroScorePolicy enforces the configured policy on a batch. With the
// floor policy, when no evaluation scored above zero every evaluation that
// had enough history gets score 1.
func (e *Engine) ApplyZeroScorePolicy(evals []domain.Evaluation) {
	if e.cfg.ZeroScorePolicy != ZeroScorePolicyFloor {
		return
	}
	for _, ev := range evals {
		if ev.Score > 0 {
			return
		}
	}
	for i := range evals {
		if len(evals[i].Closes) < e.minHistory {
			continue
		}
		evals[i].Score = 1
		evals[i].ShouldBuy = evals[i].Score >= e.cfg.BuyThreshold
	}
}
