package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

// instantAfter fires immediately and records requested delays.
func instantAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxAttempts != 500 {
		t.Errorf("expected MaxAttempts=500, got %d", cfg.MaxAttempts)
	}
	if cfg.Interval != time.Millisecond {
		t.Errorf("expected Interval=1ms, got %v", cfg.Interval)
	}
	if cfg.Budget() != 499*time.Millisecond {
		t.Errorf("expected Budget=499ms, got %v", cfg.Budget())
	}
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"valid", Config{MaxAttempts: 3, Interval: time.Millisecond}, ""},
		{"zero interval", Config{MaxAttempts: 3}, ""},
		{"zero attempts", Config{}, "retry: MaxAttempts must be positive"},
		{"negative interval", Config{MaxAttempts: 1, Interval: -1}, "retry: Interval cannot be negative"},
		{"negative elapsed", Config{MaxAttempts: 1, MaxElapsedTime: -1}, "retry: MaxElapsedTime cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := cfg.Normalize()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cfg.Now == nil || cfg.After == nil {
					t.Error("expected Now and After to be set")
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDoSuccess(t *testing.T) {
	var attempts int32
	err := Do(context.Background(), Config{MaxAttempts: 3}, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxAttempts: 5, Interval: 3 * time.Millisecond, After: instantAfter(&delays)}

	var attempts int32
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 waits, got %d", len(delays))
	}
	for _, d := range delays {
		if d != 3*time.Millisecond {
			t.Errorf("expected fixed 3ms interval, got %v", d)
		}
	}
}

func TestDoNonRetryableError(t *testing.T) {
	permanent := errors.New("constraint")
	var attempts int32
	err := DoWithRetryable(context.Background(), Config{MaxAttempts: 5}, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return permanent
	}, func(err error) bool { return errors.Is(err, errBusy) })

	if !errors.Is(err, permanent) {
		t.Errorf("expected original error, got %v", err)
	}
	var exceeded *RetriesExceededError
	if errors.As(err, &exceeded) {
		t.Error("non-retryable error must not be reported as exhaustion")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoMaxAttemptsReached(t *testing.T) {
	var attempts int32
	err := Do(context.Background(), Config{MaxAttempts: 4}, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errBusy
	})

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %T", err)
	}
	if exceeded.Attempts != 4 {
		t.Errorf("expected 4 attempts recorded, got %d", exceeded.Attempts)
	}
	if exceeded.Reason != "max attempts exceeded" {
		t.Errorf("unexpected reason %q", exceeded.Reason)
	}
	if !errors.Is(err, errBusy) {
		t.Error("should unwrap to the last error")
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var attempts int32
	err := Do(ctx, Config{MaxAttempts: 10, Interval: 50 * time.Millisecond}, func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) == 2 {
			cancel()
		}
		return errBusy
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestMaxElapsedTime(t *testing.T) {
	now := time.Unix(0, 0)
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:    100,
		Interval:       10 * time.Millisecond,
		MaxElapsedTime: 25 * time.Millisecond,
		Now:            func() time.Time { return now },
		After: func(d time.Duration) <-chan time.Time {
			now = now.Add(d)
			return instantAfter(&delays)(d)
		},
	}

	var attempts int32
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errBusy
	})

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %v", err)
	}
	if exceeded.Reason != "max elapsed time exceeded" {
		t.Errorf("unexpected reason %q", exceeded.Reason)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts inside the budget, got %d", attempts)
	}
}

func TestOnRetryCallback(t *testing.T) {
	var calls []int
	cfg := Config{
		MaxAttempts: 3,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if !errors.Is(err, errBusy) {
				t.Errorf("unexpected error in callback: %v", err)
			}
			calls = append(calls, attempt)
		},
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error { return errBusy })

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("expected callbacks for attempts 1 and 2, got %v", calls)
	}
}

func TestRetriesExceededError(t *testing.T) {
	err := &RetriesExceededError{
		LastError:     errBusy,
		Attempts:      3,
		TotalDuration: 2 * time.Millisecond,
		Reason:        "max attempts exceeded",
	}

	want := "retry: max attempts exceeded after 2ms (3 attempts): busy"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if errors.Unwrap(err) != errBusy {
		t.Error("Unwrap should return LastError")
	}
}
