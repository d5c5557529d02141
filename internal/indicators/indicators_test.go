package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{math.NaN(), math.NaN(), 2, 3, 4}

	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Errorf("SMA[%d] = %v, want NaN", i, got[i])
			}
			continue
		}
		if !almostEqual(got[i], want[i]) {
			t.Errorf("SMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEMA(t *testing.T) {
	got := EMA([]float64{2, 4, 6, 8}, 2)

	if !math.IsNaN(got[0]) {
		t.Errorf("EMA[0] = %v, want NaN", got[0])
	}
	for i, want := range map[int]float64{1: 3, 2: 5, 3: 7} {
		if !almostEqual(got[i], want) {
			t.Errorf("EMA[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestEMA_SkipsLeadingNaN(t *testing.T) {
	got := EMA([]float64{math.NaN(), math.NaN(), 2, 4}, 2)
	if !almostEqual(got[3], 3) {
		t.Errorf("EMA[3] = %v, want 3", got[3])
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{"all gains", []float64{1, 2, 3, 4, 5}, 3, 100},
		{"flat", []float64{5, 5, 5, 5}, 3, 50},
		{"wilder smoothing", []float64{1, 2, 1, 2}, 2, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Last(RSI(tt.closes, tt.period))
			if !almostEqual(got, tt.want) {
				t.Errorf("RSI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRSI_Insufficient(t *testing.T) {
	got := RSI([]float64{1, 2, 3}, 14)
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("RSI[%d] = %v, want NaN", i, v)
		}
	}
}

func TestMACD_WarmUp(t *testing.T) {
	m := MACD([]float64{1, 2, 3, 4, 5, 6}, 2, 3, 2)

	if !math.IsNaN(m.Histogram[2]) {
		t.Errorf("Histogram[2] = %v, want NaN", m.Histogram[2])
	}
	if math.IsNaN(m.Histogram[3]) {
		t.Error("Histogram[3] is NaN, want value")
	}
	if math.IsNaN(m.Line[2]) {
		t.Error("Line[2] is NaN, want value")
	}
}

func TestMomentum(t *testing.T) {
	got := Momentum([]float64{100, 101, 102, 110}, 3)
	if !almostEqual(got[3], 10) {
		t.Errorf("Momentum[3] = %v, want 10", got[3])
	}
	if !math.IsNaN(got[2]) {
		t.Errorf("Momentum[2] = %v, want NaN", got[2])
	}
}

func TestPrev(t *testing.T) {
	s := []float64{1, 2, 3}
	if Prev(s, 1) != 2 {
		t.Errorf("Prev(1) = %v, want 2", Prev(s, 1))
	}
	if !math.IsNaN(Prev(s, 3)) {
		t.Error("Prev(3) should be NaN")
	}
}
