package signal

import (
	"errors"
	"slices"
	"testing"

	"dex-trade-agent/internal/domain"
)

// shortConfig uses small periods so an 11-point series is enough history.
func shortConfig() Config {
	cfg := DefaultConfig()
	cfg.RSIPeriod = 3
	cfg.RecoverLevel = 40
	cfg.FastPeriod = 7
	cfg.SlowPeriod = 10
	cfg.MACDFast = 2
	cfg.MACDSlow = 4
	cfg.MACDSignal = 2
	return cfg
}

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEngine_InsufficientHistory(t *testing.T) {
	e := mustEngine(t, DefaultConfig())

	for _, n := range []int{0, 1, e.MinHistory() - 1} {
		ev := e.Score("PEPE", flat(n, 1))
		if ev.Score != 0 {
			t.Errorf("n=%d: Score = %d, want 0", n, ev.Score)
		}
		if len(ev.Signals) != 0 {
			t.Errorf("n=%d: Signals = %v, want empty", n, ev.Signals)
		}
		if ev.ShouldBuy || ev.ShouldSell {
			t.Errorf("n=%d: unexpected action buy=%v sell=%v", n, ev.ShouldBuy, ev.ShouldSell)
		}
	}
}

func TestEngine_DerivedMinHistory(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	if e.MinHistory() != 35 {
		t.Errorf("MinHistory = %d, want 35", e.MinHistory())
	}
}

func TestEngine_BounceAndCrossover(t *testing.T) {
	e := mustEngine(t, shortConfig())
	closes := []float64{10, 10, 9, 8, 7, 7.5, 8, 9, 10, 11, 12}

	ev := e.Score("GMX", closes)

	if ev.Score < 2 {
		t.Fatalf("Score = %d, want >= 2 (signals %v)", ev.Score, ev.Signals)
	}
	if !slices.Contains(ev.Signals, LabelRSIBounce) {
		t.Errorf("Signals %v missing %q", ev.Signals, LabelRSIBounce)
	}
	if !slices.Contains(ev.Signals, LabelSMACrossover) {
		t.Errorf("Signals %v missing %q", ev.Signals, LabelSMACrossover)
	}
	if !ev.ShouldBuy {
		t.Error("ShouldBuy = false, want true")
	}
	if ev.Price != 12 {
		t.Errorf("Price = %v, want 12", ev.Price)
	}
}

func TestEngine_FlatSeriesScoresZero(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	ev := e.Score("FLAT", flat(60, 2))

	if ev.Score != 0 {
		t.Errorf("Score = %d, want 0 (signals %v)", ev.Score, ev.Signals)
	}
	if ev.ShouldSell {
		t.Errorf("ShouldSell = true, sell signals %v", ev.SellSignals)
	}
}

func TestEngine_Overbought(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(100 + i)
	}

	ev := e.Score("UP", closes)
	if !ev.ShouldSell {
		t.Fatal("ShouldSell = false, want true")
	}
	if !slices.Contains(ev.SellSignals, LabelRSIOverbought) {
		t.Errorf("SellSignals %v missing %q", ev.SellSignals, LabelRSIOverbought)
	}
	if ev.Score > MaxScore {
		t.Errorf("Score = %d exceeds MaxScore", ev.Score)
	}
}

func TestEngine_ApplyZeroScorePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		scores []int
		want   []int
	}{
		{"keep leaves zeros", ZeroScorePolicyKeep, []int{0, 0}, []int{0, 0}},
		{"floor lifts zeros", ZeroScorePolicyFloor, []int{0, 0}, []int{1, 1}},
		{"floor ignores batch with a scorer", ZeroScorePolicyFloor, []int{0, 2}, []int{0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ZeroScorePolicy = tt.policy
			e := mustEngine(t, cfg)

			evals := make([]domain.Evaluation, len(tt.scores))
			for i, s := range tt.scores {
				evals[i] = domain.Evaluation{Score: s, Closes: flat(e.MinHistory(), 1)}
			}
			e.ApplyZeroScorePolicy(evals)

			for i := range evals {
				if evals[i].Score != tt.want[i] {
					t.Errorf("evals[%d].Score = %d, want %d", i, evals[i].Score, tt.want[i])
				}
				if evals[i].ShouldBuy {
					t.Errorf("evals[%d].ShouldBuy = true below threshold", i)
				}
			}
		})
	}
}

func TestEngine_FloorSkipsWarmingSymbols(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ZeroScorePolicy = ZeroScorePolicyFloor
	e := mustEngine(t, cfg)

	evals := []domain.Evaluation{{Symbol: "NEW", Closes: flat(3, 1)}}
	e.ApplyZeroScorePolicy(evals)
	if evals[0].Score != 0 {
		t.Errorf("Score = %d, want 0 for warming symbol", evals[0].Score)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlowPeriod = cfg.FastPeriod

	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}

	cfg = DefaultConfig()
	cfg.ZeroScorePolicy = "random"
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}
