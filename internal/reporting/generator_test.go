package reporting

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage/memory"
)

const (
	tokenPEPE = "0x25d887Ce7a35172C62FeBFD67a1856F20FaEbB00"
	tokenLINK = "0xf97f4df75117a78c1A5a0DBb814Af92458539FB4"
	tokenUNI  = "0xFa7F8980b0f1E64A2062791cc3b0871572f1F7f0"
)

type stubPrices map[string]float64

func (s stubPrices) Price(_ context.Context, address string) (float64, error) {
	p, ok := s[address]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func setupTestLog(t *testing.T) *memory.TradeLogStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewTradeLogStore()

	entries := []*domain.TradeLogEntry{
		{ID: "e1", Timestamp: 1000, Action: domain.ActionBuy, Symbol: "PEPE", Token: tokenPEPE, Quantity: decimal.NewFromInt(100), Price: 1.0, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerSignal},
		{ID: "e2", Timestamp: 2000, Action: domain.ActionSell, Symbol: "PEPE", Token: tokenPEPE, Quantity: decimal.NewFromInt(100), Price: 1.2, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerTakeProfit, PnLPct: 20},
		{ID: "e3", Timestamp: 3000, Action: domain.ActionBuy, Symbol: "LINK", Token: tokenLINK, Quantity: decimal.NewFromInt(10), Price: 10, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerSignal},
		{ID: "e4", Timestamp: 4000, Action: domain.ActionSell, Symbol: "LINK", Token: tokenLINK, Quantity: decimal.NewFromInt(5), Price: 9, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerStopLoss, PnLPct: -10},
		{ID: "e5", Timestamp: 5000, Action: domain.ActionBuy, Symbol: "UNI", Token: tokenUNI, Quantity: decimal.NewFromInt(3), Price: 7, Outcome: domain.OutcomeRejected, Reason: domain.ReasonGas},
		{ID: "e6", Timestamp: 6000, Action: domain.ActionSell, Symbol: "LINK", Token: tokenLINK, Quantity: decimal.NewFromInt(5), Price: 8, Outcome: domain.OutcomeFailed, Reason: domain.ReasonSubmit, Error: "nonce too low"},
		{ID: "e7", Timestamp: 7000, Action: domain.ActionBuy, Symbol: "PEPE", Token: tokenPEPE, Quantity: decimal.NewFromInt(50), Price: 1.0, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerSignal, Simulated: true},
		{ID: "e8", Timestamp: 8000, Action: domain.ActionSell, Symbol: "PEPE", Token: tokenPEPE, Quantity: decimal.NewFromInt(50), Price: 1.05, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerSellSignal, PnLPct: 5, Simulated: true},
		{ID: "e9", Timestamp: 9000, Action: domain.ActionBuy, Symbol: "WETH", Token: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Quantity: decimal.NewFromInt(1), Price: 3000, Outcome: domain.OutcomeSuccess, Reason: domain.TriggerSignal},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append %s failed: %v", e.ID, err)
		}
	}
	return store
}

func TestGenerator_Summary(t *testing.T) {
	store := setupTestLog(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r, err := NewGenerator(store, "WETH", "USDC").WithClock(func() time.Time { return fixed }).Generate(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !r.GeneratedAt.Equal(fixed) {
		t.Errorf("GeneratedAt = %v, want %v", r.GeneratedAt, fixed)
	}

	s := r.Summary
	if s.TotalEntries != 7 || s.Buys != 3 || s.Sells != 2 || s.Rejected != 1 || s.Failed != 1 || s.Simulated != 0 {
		t.Errorf("counts = %+v", s)
	}
	if s.FirstEntry != 1000 || s.LastEntry != 9000 {
		t.Errorf("range = %d..%d, want 1000..9000", s.FirstEntry, s.LastEntry)
	}
	if s.ClosedTrades != 2 || s.Wins != 1 || s.Losses != 1 {
		t.Errorf("closed = %d wins = %d losses = %d", s.ClosedTrades, s.Wins, s.Losses)
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"WinRate", s.WinRate, 0.5},
		{"PnLMean", s.PnLMean, 5},
		{"PnLMedian", s.PnLMedian, 5},
		{"PnLP10", s.PnLP10, -7},
		{"PnLP90", s.PnLP90, 17},
		{"MaxDrawdown", s.MaxDrawdown, 10},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s = %f, want %f", c.name, c.got, c.want)
		}
	}
	if s.MaxConsecutiveLosses != 1 {
		t.Errorf("MaxConsecutiveLosses = %d, want 1", s.MaxConsecutiveLosses)
	}
}

func TestGenerator_IncludeSimulated(t *testing.T) {
	store := setupTestLog(t)

	r, err := NewGenerator(store, "WETH").WithSimulated(true).Generate(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Summary.TotalEntries != 9 || r.Summary.Simulated != 2 {
		t.Errorf("entries = %d simulated = %d, want 9 and 2", r.Summary.TotalEntries, r.Summary.Simulated)
	}
	if r.Summary.ClosedTrades != 3 || r.Summary.Wins != 2 {
		t.Errorf("closed = %d wins = %d, want 3 and 2", r.Summary.ClosedTrades, r.Summary.Wins)
	}

	// Simulated fills never open positions.
	if len(r.Positions) != 1 || r.Positions[0].Symbol != "LINK" {
		t.Errorf("positions = %+v, want only LINK", r.Positions)
	}
}

func TestGenerator_TimeRange(t *testing.T) {
	store := setupTestLog(t)

	r, err := NewGenerator(store, "WETH").Generate(context.Background(), 2500, 4500)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Summary.TotalEntries != 2 || r.Summary.ClosedTrades != 1 {
		t.Errorf("entries = %d closed = %d, want 2 and 1", r.Summary.TotalEntries, r.Summary.ClosedTrades)
	}
	if r.Summary.WinRate != 0 || !approx(r.Summary.MaxDrawdown, 10) {
		t.Errorf("WinRate = %f MaxDrawdown = %f", r.Summary.WinRate, r.Summary.MaxDrawdown)
	}
	// Positions come from the full log regardless of range.
	if len(r.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(r.Positions))
	}
}

func TestGenerator_OutcomesSorted(t *testing.T) {
	store := setupTestLog(t)

	r, err := NewGenerator(store).Generate(context.Background(), 0, 8000)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := []OutcomeRow{
		{Action: "BUY", Outcome: "REJECTED", Reason: "gas", Count: 1},
		{Action: "BUY", Outcome: "SUCCESS", Reason: "signal", Count: 2},
		{Action: "SELL", Outcome: "FAILED", Reason: "submit", Count: 1},
		{Action: "SELL", Outcome: "SUCCESS", Reason: "stop-loss", Count: 1},
		{Action: "SELL", Outcome: "SUCCESS", Reason: "take-profit", Count: 1},
	}
	if len(r.Outcomes) != len(want) {
		t.Fatalf("outcomes = %+v", r.Outcomes)
	}
	for i := range want {
		if r.Outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %+v, want %+v", i, r.Outcomes[i], want[i])
		}
	}
}

func TestGenerator_Symbols(t *testing.T) {
	store := setupTestLog(t)

	r, err := NewGenerator(store, "WETH").Generate(context.Background(), 0, 8000)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(r.Symbols) != 3 {
		t.Fatalf("symbols = %+v", r.Symbols)
	}

	order := []string{"PEPE", "UNI", "LINK"}
	for i, sym := range order {
		if r.Symbols[i].Symbol != sym {
			t.Errorf("symbols[%d] = %s, want %s", i, r.Symbols[i].Symbol, sym)
		}
	}

	link := r.Symbols[2]
	if link.Buys != 1 || link.Sells != 1 || link.Failures != 1 || link.LastAt != 6000 {
		t.Errorf("LINK row = %+v", link)
	}
	if !approx(link.PnLMean, -10) || link.WinRate != 0 {
		t.Errorf("LINK PnLMean = %f WinRate = %f", link.PnLMean, link.WinRate)
	}
}

func TestGenerator_PositionsMarked(t *testing.T) {
	store := setupTestLog(t)
	prices := stubPrices{tokenLINK: 12}

	r, err := NewGenerator(store, "WETH").WithPrices(prices).Generate(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(r.Positions) != 1 {
		t.Fatalf("positions = %+v, want 1", r.Positions)
	}

	p := r.Positions[0]
	if p.Symbol != "LINK" || p.Quantity != "5" {
		t.Errorf("position = %+v", p)
	}
	if !approx(p.AvgCost, 10) || !approx(p.CostBasis, 50) {
		t.Errorf("AvgCost = %f CostBasis = %f", p.AvgCost, p.CostBasis)
	}
	if !approx(p.Price, 12) || !approx(p.Value, 60) || !approx(p.UnrealizedPct, 20) {
		t.Errorf("Price = %f Value = %f UnrealizedPct = %f", p.Price, p.Value, p.UnrealizedPct)
	}
}

func TestGenerator_MissingMarkPrice(t *testing.T) {
	store := setupTestLog(t)

	r, err := NewGenerator(store, "WETH").WithPrices(stubPrices{}).Generate(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Positions[0].Price != 0 || r.Positions[0].Value != 0 {
		t.Errorf("unmarked position = %+v", r.Positions[0])
	}
}

func TestGenerator_EmptyLog(t *testing.T) {
	r, err := NewGenerator(memory.NewTradeLogStore()).Generate(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Summary.TotalEntries != 0 || r.Summary.ClosedTrades != 0 || len(r.Positions) != 0 {
		t.Errorf("empty report = %+v", r)
	}

	md := RenderMarkdown(r)
	for _, want := range []string{"No closed trades.", "No entries in range.", "No open positions."} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	store := setupTestLog(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r, err := NewGenerator(store, "WETH").
		WithClock(func() time.Time { return fixed }).
		WithPrices(stubPrices{tokenLINK: 12}).
		Generate(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(r)
	for _, want := range []string{
		"# Trading Report",
		"Generated: 2026-01-02T03:04:05Z",
		"| Entries | 7 |",
		"| 2 | 1 | 1 | 0.5000 | 5.00 | 5.00 | -7.00 | 17.00 |",
		"| BUY | REJECTED | gas | 1 |",
		"| PEPE | 1 | 1 | 0 | 1.0000 | 20.00 | 20.00 |",
		"| LINK | 5 | 10 | 50.00 | 12 | 60.00 | 20.00 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestRenderCSV(t *testing.T) {
	rows := []SymbolRow{
		{Symbol: "PEPE", Buys: 1, Sells: 1, WinRate: 1, PnLMean: 20, PnLSum: 20, LastAt: 2000},
	}
	csv := RenderSymbolsCSV(rows)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0] != "symbol,buys,sells,failures,win_rate,pnl_mean,pnl_sum,last_at" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "PEPE,1,1,0,1.000000,20.000000,20.000000,2000" {
		t.Errorf("row = %q", lines[1])
	}

	pos := RenderPositionsCSV([]PositionRow{{Symbol: "LINK", Token: tokenLINK, Quantity: "5", AvgCost: 10, CostBasis: 50, OpenedAt: 3000}})
	if !strings.Contains(pos, "LINK,"+tokenLINK+",5,10.0000000000,50.000000,0.0000000000,0.000000,0.000000,3000") {
		t.Errorf("positions csv = %q", pos)
	}
}
