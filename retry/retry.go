// Package retry implements bounded retry with exponential backoff and jitter.
//
// Operations signal retryability by wrapping their error in *Transient; any
// other error is treated as permanent and returned immediately. A Transient
// may carry a server-directed delay (e.g. from a Retry-After header) that
// overrides the backoff schedule for that attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrBudgetExhausted is returned (wrapping the last attempt's error) when
// all attempts fail with transient errors.
var ErrBudgetExhausted = errors.New("retry: budget exhausted")

// Transient wraps an error that should be retried.
type Transient struct {
	Err error
	// RetryAfter, when positive, overrides the backoff schedule for the
	// next delay (server-directed hint from a 429 response).
	RetryAfter time.Duration
}

func (t *Transient) Error() string { return t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// Mark wraps err as transient with no delay hint. Returns nil for nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// Policy bounds the retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 5.
	MaxAttempts int
	// BaseDelay is the first backoff delay. Default: 1s.
	BaseDelay time.Duration
	// MaxDelay caps any single delay, including server-directed ones.
	// Default: 30s.
	MaxDelay time.Duration
	// JitterFrac adds up to this fraction of the delay as random jitter.
	// Default: 0.25.
	JitterFrac float64
}

func (p *Policy) defaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.JitterFrac <= 0 {
		p.JitterFrac = 0.25
	}
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget is
// spent. The op string labels log lines. Backoff doubles from BaseDelay up
// to MaxDelay, with jitter; a Transient.RetryAfter hint replaces the
// scheduled delay for that attempt.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, fn func(context.Context) error) error {
	p.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var tr *Transient
		if !errors.As(err, &tr) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delay(attempt, tr.RetryAfter)
		logger.Warn("retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if err := sleepCtx(ctx, delay); err != nil {
			return fmt.Errorf("retry: %s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrBudgetExhausted, op, p.MaxAttempts, lastErr)
}

// delay computes the backoff for the given 1-based attempt number.
func (p Policy) delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, p.MaxDelay)
	}
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * p.JitterFrac * float64(d))
	return min(d+jitter, p.MaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
