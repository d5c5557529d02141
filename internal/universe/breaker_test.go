package universe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dex-trade-agent/internal/storage/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(store *memory.FailureStateStore) (*Breaker, *clock) {
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var b *Breaker
	if store != nil {
		b = NewBreaker(DefaultBreakerConfig(), store, zerolog.Nop())
	} else {
		b = NewBreaker(DefaultBreakerConfig(), nil, zerolog.Nop())
	}
	b.now = c.now
	return b, c
}

func TestBreaker_DisablesAfterThreshold(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBreaker(nil)

	for i := 1; i <= 2; i++ {
		if b.RecordFailure(ctx, "GMX") {
			t.Fatalf("disabled after %d failures", i)
		}
		c.advance(5 * time.Minute)
	}
	if !b.RecordFailure(ctx, "GMX") {
		t.Fatal("expected disable on third failure")
	}
	if !b.Disabled(ctx, "GMX") {
		t.Error("expected GMX disabled")
	}
	if got := b.DisabledSymbols(); len(got) != 1 || got[0] != "GMX" {
		t.Errorf("DisabledSymbols = %v", got)
	}

	c.advance(12*time.Hour - time.Minute)
	if !b.Disabled(ctx, "GMX") {
		t.Error("expected GMX still disabled before cooldown ends")
	}

	c.advance(2 * time.Minute)
	if b.Disabled(ctx, "GMX") {
		t.Error("expected GMX re-enabled after cooldown")
	}
	if _, ok := b.State("GMX"); ok {
		t.Error("expected state cleared after re-enable")
	}
}

func TestBreaker_GapResetsCount(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBreaker(nil)

	b.RecordFailure(ctx, "LINK")
	b.RecordFailure(ctx, "LINK")
	c.advance(31 * time.Minute)

	if b.RecordFailure(ctx, "LINK") {
		t.Fatal("isolated failures after the reset window must not disable")
	}
	st, _ := b.State("LINK")
	if st.Count != 1 {
		t.Errorf("count = %d, want 1 after reset", st.Count)
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(nil)

	b.RecordFailure(ctx, "PENDLE")
	b.RecordFailure(ctx, "PENDLE")
	b.RecordSuccess(ctx, "PENDLE")

	if b.RecordFailure(ctx, "PENDLE") {
		t.Error("success should have reset the counter")
	}
}

func TestBreaker_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewFailureStateStore()
	b, c := newTestBreaker(store)

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "MAGIC")
	}

	restarted, _ := newTestBreaker(store)
	restarted.now = c.now
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !restarted.Disabled(ctx, "MAGIC") {
		t.Error("expected disable to survive restart")
	}

	c.advance(13 * time.Hour)
	if restarted.Disabled(ctx, "MAGIC") {
		t.Error("expected re-enable after cooldown")
	}
	if _, err := store.Get(ctx, "MAGIC"); err == nil {
		t.Error("expected persisted state removed after re-enable")
	}
}
