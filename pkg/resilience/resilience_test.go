package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	ctx := context.Background()
	fail := func(context.Context) error { return errTransient }

	cb.Do(ctx, fail)
	cb.Do(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Do(ctx, func(context.Context) error { return nil }); !IsOpen(err) {
		t.Fatalf("expected open-circuit rejection, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	errMissing := errors.New("missing")
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errMissing) },
	})
	for i := 0; i < 5; i++ {
		if err := cb.Do(context.Background(), func(context.Context) error { return errMissing }); !errors.Is(err, errMissing) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	ctx := context.Background()
	fail := func(context.Context) error { return errTransient }

	cb.Do(ctx, fail)
	time.Sleep(15 * time.Millisecond)
	if err := cb.Do(ctx, fail); !errors.Is(err, errTransient) {
		t.Fatalf("probe error = %v, want the probe's own error", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitBreakerSkipsCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := cb.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("Do on cancelled ctx = %v, called=%v", err, called)
	}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	err := Retry(context.Background(), "save", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		if calls.Add(1) < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryPermanent(t *testing.T) {
	var calls atomic.Int32
	err := Retry(context.Background(), "save", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Permanent:    func(error) bool { return true },
	}, func(context.Context) error {
		calls.Add(1)
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if err := WithTimeout(context.Background(), 0, "fast", func(context.Context) error { return nil }); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	err := Retry(ctx, "save", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func(context.Context) error {
		if calls.Add(1) == 1 {
			cancel()
		}
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second}.withDefaults()
	if d := backoff(10, cfg); d != 3*time.Second {
		t.Errorf("backoff(10) = %v, want 3s", d)
	}
	if d := backoff(1, cfg); d < 900*time.Millisecond || d > 1100*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 1s +/- 10%%", d)
	}
}

func TestWithTimeoutKeepsCallerError(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "fetch", func(ctx context.Context) error {
		<-ctx.Done()
		return errTransient
	})
	if !errors.Is(err, errTransient) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want both the caller error and DeadlineExceeded", err)
	}
}
