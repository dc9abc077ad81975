// Package retry runs operations that can fail transiently, such as creating
// the study store or the study directory, under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy controls how many times an operation is attempted.
type Policy struct {
	MaxAttempts int // minimum 1 (1 = no retries)

	// Wait is the constant delay between attempts.
	Wait time.Duration

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(error) bool

	// OnRetry is called before each wait with the failed attempt (1-indexed),
	// its error and the delay that follows.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// None attempts once.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Fixed attempts up to attempts times with a constant wait between them.
func Fixed(attempts int, wait time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Wait: wait}
}

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
// When every attempt fails the returned error wraps both ErrExhausted and the
// last error from fn.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Wait
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr, delay)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
