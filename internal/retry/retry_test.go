package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMult: 2}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("timeout")
		}
		return "0xabc", nil
	})

	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Value != "0xabc" {
		t.Errorf("Value = %q, want 0xabc", res.Value)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDo_Exhausted(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0
	res := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	if !res.Exhausted() {
		t.Fatalf("expected exhausted, got %v", res.Err)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected wrapped last error, got %v", res.Err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errors.New("execution reverted"))
	})

	if res.OK() || res.Exhausted() {
		t.Fatalf("expected permanent failure, got %v", res.Err)
	}
	if !IsPermanent(res.Err) {
		t.Errorf("IsPermanent = false for %v", res.Err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}

	res := Do(ctx, p, func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("timeout")
	})

	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
