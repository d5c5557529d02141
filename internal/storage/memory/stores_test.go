package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

func TestTradeLogStore_AppendAndGetAll(t *testing.T) {
	store := NewTradeLogStore()
	ctx := context.Background()

	entries := []*domain.TradeLogEntry{
		{ID: "b", Timestamp: 2000, Action: domain.ActionSell, Symbol: "ARB", Quantity: decimal.NewFromInt(5), Outcome: domain.OutcomeSuccess},
		{ID: "a", Timestamp: 1000, Action: domain.ActionBuy, Symbol: "ARB", Quantity: decimal.NewFromInt(10), Outcome: domain.OutcomeSuccess},
		{ID: "c", Timestamp: 2000, Action: domain.ActionBuy, Symbol: "GMX", Quantity: decimal.NewFromInt(1), Outcome: domain.OutcomeRejected, Reason: domain.ReasonLiquidity},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	wantOrder := []string{"a", "b", "c"}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d entries, got %d", len(wantOrder), len(got))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}

	bySymbol, _ := store.GetBySymbol(ctx, "GMX")
	if len(bySymbol) != 1 || bySymbol[0].Reason != domain.ReasonLiquidity {
		t.Errorf("GetBySymbol mismatch: %+v", bySymbol)
	}

	inRange, _ := store.GetByTimeRange(ctx, 1500, 2000)
	if len(inRange) != 2 {
		t.Errorf("expected 2 entries in range, got %d", len(inRange))
	}
}

func TestTradeLogStore_DuplicateKey(t *testing.T) {
	store := NewTradeLogStore()
	ctx := context.Background()

	e := &domain.TradeLogEntry{ID: "x", Timestamp: 1}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := store.Append(ctx, e); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Append(ctx, &domain.TradeLogEntry{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTradeLogStore_ReturnsCopies(t *testing.T) {
	store := NewTradeLogStore()
	ctx := context.Background()
	_ = store.Append(ctx, &domain.TradeLogEntry{ID: "x", Symbol: "ARB"})

	got, _ := store.GetAll(ctx)
	got[0].Symbol = "MUTATED"

	again, _ := store.GetAll(ctx)
	if again[0].Symbol != "ARB" {
		t.Errorf("store entry mutated through returned pointer")
	}
}

func TestPriceSampleStore_GetRecent(t *testing.T) {
	store := NewPriceSampleStore()
	ctx := context.Background()

	samples := []*domain.PriceSample{
		{Symbol: "ARB", TimestampMs: 3000, Price: 1.3},
		{Symbol: "ARB", TimestampMs: 1000, Price: 1.1},
		{Symbol: "ARB", TimestampMs: 2000, Price: 1.2},
		{Symbol: "GMX", TimestampMs: 1000, Price: 40},
	}
	if err := store.InsertBulk(ctx, samples); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetRecent(ctx, "ARB", 2)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(got) != 2 || got[0].Price != 1.2 || got[1].Price != 1.3 {
		t.Errorf("expected newest two ascending, got %+v %+v", got[0], got[1])
	}

	ranged, _ := store.GetByTimeRange(ctx, "ARB", 1000, 2000)
	if len(ranged) != 2 {
		t.Errorf("expected 2 samples in range, got %d", len(ranged))
	}
}

func TestPriceSampleStore_Duplicates(t *testing.T) {
	store := NewPriceSampleStore()
	ctx := context.Background()

	dup := []*domain.PriceSample{
		{Symbol: "ARB", TimestampMs: 1000, Price: 1},
		{Symbol: "ARB", TimestampMs: 1000, Price: 2},
	}
	if err := store.InsertBulk(ctx, dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected intra-batch ErrDuplicateKey, got %v", err)
	}

	if err := store.InsertBulk(ctx, dup[:1]); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if err := store.InsertBulk(ctx, dup[1:]); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey against existing rows, got %v", err)
	}
}

func TestFailureStateStore(t *testing.T) {
	store := NewFailureStateStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "ARB"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, &domain.FailureState{Symbol: "ARB", Count: 1, LastFailure: 10}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, &domain.FailureState{Symbol: "ARB", Count: 2, LastFailure: 20}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = store.Put(ctx, &domain.FailureState{Symbol: "AAVE", Count: 1})

	got, err := store.Get(ctx, "ARB")
	if err != nil || got.Count != 2 {
		t.Fatalf("expected overwritten count 2, got %+v (%v)", got, err)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 2 || all[0].Symbol != "AAVE" {
		t.Errorf("expected 2 states sorted by symbol, got %+v", all)
	}

	_ = store.Delete(ctx, "ARB")
	if _, err := store.Get(ctx, "ARB"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
