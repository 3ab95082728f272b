package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps tests quick.
var fastPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, nil, "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, nil, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return Mark(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	perm := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastPolicy, nil, "op", func(context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestDo_BudgetExhaustedAfterExactlyMaxAttempts(t *testing.T) {
	// Retry budget termination: always-transient failures stop after
	// exactly MaxAttempts, never retry indefinitely.
	always := errors.New("rate limited")
	calls := 0
	err := Do(context.Background(), fastPolicy, nil, "op", func(context.Context) error {
		calls++
		return Mark(always)
	})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if !errors.Is(err, always) {
		t.Errorf("exhaustion should wrap the last error, got %v", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Errorf("calls: got %d, want %d", calls, fastPolicy.MaxAttempts)
	}
}

func TestDo_RetryAfterHintOverridesSchedule(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second, JitterFrac: 0.01}
	hint := 50 * time.Millisecond
	start := time.Now()
	calls := 0
	Do(context.Background(), p, nil, "op", func(context.Context) error {
		calls++
		return &Transient{Err: errors.New("429"), RetryAfter: hint}
	})
	if calls != 2 {
		t.Fatalf("calls: got %d, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < hint {
		t.Errorf("server-directed delay not honored: slept %v, want >= %v", elapsed, hint)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, nil, "op", func(context.Context) error {
		return Mark(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMark_Nil(t *testing.T) {
	if Mark(nil) != nil {
		t.Error("Mark(nil) must return nil")
	}
}
