package payroll

import (
	"context"
	"errors"
	"time"
)

// SleepFunc suspends the caller between retry attempts. Injected so the retry
// policy is testable without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc: honors cancellation.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy is a bounded retry state machine: at most MaxAttempts tries,
// BaseDelay doubling after each failed attempt. Terminal errors stop the
// machine immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the collector contract: 3 attempts, 500ms base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Do runs op until it succeeds, exhausts attempts, or hits a terminal error.
// The last error is returned unwrapped so callers can classify it.
func (p RetryPolicy) Do(ctx context.Context, sleep SleepFunc, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = ContextSleep
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return lastErr
}

// Retryable reports whether an error is transient. Not-found and forbidden
// responses are terminal; everything else (timeouts, 5xx, transport errors)
// is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
