// Package retry provides a bounded exponential backoff policy for transient
// provider errors. Only errors explicitly marked transient are retried;
// everything else surfaces immediately.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds retry behavior for one external call site
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay randomized in either direction
}

// DefaultPolicy returns the standard policy for broker and provider calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps an error so the retry policy will retry it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether an error was marked transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Do invokes fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted. The backoff sleep respects ctx cancellation.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		if sleepErr := sleep(ctx, p.jittered(delay)); sleepErr != nil {
			return sleepErr
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

func (p Policy) jittered(delay time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return delay
	}
	spread := float64(delay) * p.Jitter
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(delay) + offset)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
