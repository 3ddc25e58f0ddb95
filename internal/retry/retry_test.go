package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return MarkTransient(errors.New("rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	transient := MarkTransient(errors.New("rate limited"))
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return transient
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if !IsTransient(err) {
		t.Error("Exhausted error should still be identifiable as transient")
	}
}

func TestDoNeverRetriesPermanent(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid credentials")
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Permanent errors must not be retried, got %d calls", calls)
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2.0}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func() error {
		calls++
		return MarkTransient(errors.New("rate limited"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

func TestMarkTransientNil(t *testing.T) {
	if MarkTransient(nil) != nil {
		t.Error("Marking nil should stay nil")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("Plain errors are not transient")
	}
}

func TestMarkTransientUnwraps(t *testing.T) {
	base := errors.New("quota exceeded")
	wrapped := MarkTransient(base)
	if !errors.Is(wrapped, base) {
		t.Error("Transient wrapper must unwrap to the original error")
	}
}
