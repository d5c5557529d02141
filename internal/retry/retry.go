// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffMult float64
}

// DefaultPolicy returns 3 attempts starting at 1s, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		BackoffMult: DefaultBackoffMult,
	}
}

// permanentError stops the retry loop immediately.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Result describes how an operation finished.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error // nil on success; wraps ErrExhausted or a permanent error otherwise
}

// OK reports success.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Exhausted reports that every attempt failed with a retryable error.
func (r Result[T]) Exhausted() bool {
	return errors.Is(r.Err, ErrExhausted)
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) Result[T] {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffMult < 1 {
		p.BackoffMult = 1
	}

	delay := p.BaseDelay
	var lastErr error
	var zero T

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return Result[T]{Value: zero, Attempts: attempt - 1, Err: fmt.Errorf("%w: %w", ctx.Err(), lastErr)}
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.BackoffMult)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		v, err := op(ctx)
		if err == nil {
			return Result[T]{Value: v, Attempts: attempt}
		}
		if IsPermanent(err) {
			return Result[T]{Value: zero, Attempts: attempt, Err: err}
		}
		lastErr = err
	}

	return Result[T]{Value: zero, Attempts: p.MaxAttempts, Err: fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)}
}
