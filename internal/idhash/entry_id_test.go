package idhash

import (
	"testing"

	"dex-trade-agent/internal/domain"
)

func TestComputeEntryID_Deterministic(t *testing.T) {
	a := ComputeEntryID(1700000000000, domain.ActionBuy, "ARB", domain.OutcomeSuccess, "signal", "0xabc", "run-a", 1)
	b := ComputeEntryID(1700000000000, domain.ActionBuy, "ARB", domain.OutcomeSuccess, "signal", "0xabc", "run-a", 1)

	if a != b {
		t.Errorf("same input produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeEntryID_FieldsMatter(t *testing.T) {
	base := ComputeEntryID(1000, domain.ActionBuy, "ARB", domain.OutcomeRejected, "liquidity", "", "run-a", 1)

	variants := map[string]string{
		"timestamp": ComputeEntryID(1001, domain.ActionBuy, "ARB", domain.OutcomeRejected, "liquidity", "", "run-a", 1),
		"action":    ComputeEntryID(1000, domain.ActionSell, "ARB", domain.OutcomeRejected, "liquidity", "", "run-a", 1),
		"symbol":    ComputeEntryID(1000, domain.ActionBuy, "GMX", domain.OutcomeRejected, "liquidity", "", "run-a", 1),
		"outcome":   ComputeEntryID(1000, domain.ActionBuy, "ARB", domain.OutcomeFailed, "liquidity", "", "run-a", 1),
		"reason":    ComputeEntryID(1000, domain.ActionBuy, "ARB", domain.OutcomeRejected, "gas", "", "run-a", 1),
		"tx":        ComputeEntryID(1000, domain.ActionBuy, "ARB", domain.OutcomeRejected, "liquidity", "0x1", "run-a", 1),
		"instance":  ComputeEntryID(1000, domain.ActionBuy, "ARB", domain.OutcomeRejected, "liquidity", "", "run-b", 1),
		"seq":       ComputeEntryID(1000, domain.ActionBuy, "ARB", domain.OutcomeRejected, "liquidity", "", "run-a", 2),
	}
	for name, id := range variants {
		if id == base {
			t.Errorf("changing %s did not change the ID", name)
		}
	}
}
