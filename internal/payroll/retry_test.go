package payroll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyRetriesTransientErrors(t *testing.T) {
	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	attempts := 0
	err := DefaultRetryPolicy().Do(context.Background(), sleep, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 500*time.Millisecond || delays[1] != time.Second {
		t.Fatalf("expected doubling backoff [500ms 1s], got %v", delays)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	transient := errors.New("still failing")
	err := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), noSleep, func() error {
		attempts++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error back, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicyStopsOnTerminalErrors(t *testing.T) {
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }

	for _, terminal := range []error{ErrNotFound, ErrForbidden} {
		attempts := 0
		err := DefaultRetryPolicy().Do(context.Background(), noSleep, func() error {
			attempts++
			return terminal
		})
		if !errors.Is(err, terminal) {
			t.Fatalf("expected %v back, got %v", terminal, err)
		}
		if attempts != 1 {
			t.Fatalf("expected no retry for %v, got %d attempts", terminal, attempts)
		}
	}
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DefaultRetryPolicy().Do(ctx, nil, func() error {
		t.Fatalf("op must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
	if Retryable(ErrNotFound) || Retryable(ErrForbidden) {
		t.Fatalf("terminal errors must not be retryable")
	}
	if !Retryable(errors.New("connection reset")) {
		t.Fatalf("transport errors are retryable")
	}
}
