package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config defines a bounded retry policy with a fixed pause between attempts.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one)
	MaxAttempts int
	// Interval is the pause between two attempts; zero retries immediately
	Interval time.Duration
	// MaxElapsedTime is the maximum total time to spend on retries (0 = no limit)
	MaxElapsedTime time.Duration
	// OnRetry is called before each pause for observability
	OnRetry func(attempt int, err error, delay time.Duration)
	// Now returns current time (for testing, defaults to time.Now)
	Now func() time.Time
	// After creates a timer channel (for testing, defaults to time.After)
	After func(d time.Duration) <-chan time.Time
}

// DefaultConfig returns the policy used against the embedded engine:
// 500 attempts one millisecond apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    500,
		Interval:       time.Millisecond,
		MaxElapsedTime: 0, // attempts bound the wait
	}
}

// Normalize validates the configuration and fills optional fields.
func (c *Config) Normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.Interval < 0 {
		return errors.New("retry: Interval cannot be negative")
	}
	if c.MaxElapsedTime < 0 {
		return errors.New("retry: MaxElapsedTime cannot be negative")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}
	return nil
}

// Budget is the longest time the policy can spend waiting.
func (c Config) Budget() time.Duration {
	if c.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(c.MaxAttempts-1) * c.Interval
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableFunc determines if an error should trigger a retry
type IsRetryableFunc func(err error) bool

// RetriesExceededError is returned when retries are exhausted
type RetriesExceededError struct {
	LastError     error
	Attempts      int
	TotalDuration time.Duration
	Reason        string
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("retry: %s after %s (%d attempts): %v",
		e.Reason, e.TotalDuration, e.Attempts, e.LastError)
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

// Do executes fn, retrying every error until the policy is exhausted.
func Do(ctx context.Context, config Config, fn RetryableFunc) error {
	return DoWithRetryable(ctx, config, fn, func(err error) bool { return err != nil })
}

// DoWithRetryable executes fn and retries only the errors isRetryable accepts.
// A non-retryable error is returned unchanged; exhaustion is reported as
// *RetriesExceededError wrapping the last error.
func DoWithRetryable(ctx context.Context, config Config, fn RetryableFunc, isRetryable IsRetryableFunc) error {
	configCopy := config
	if err := configCopy.Normalize(); err != nil {
		return err
	}

	var lastErr error
	startTime := configCopy.Now()

	for attempt := 1; attempt <= configCopy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == configCopy.MaxAttempts {
			break
		}

		delay := configCopy.Interval

		if configCopy.MaxElapsedTime > 0 {
			elapsed := configCopy.Now().Sub(startTime)
			if elapsed+delay > configCopy.MaxElapsedTime {
				return &RetriesExceededError{
					LastError:     lastErr,
					Attempts:      attempt,
					TotalDuration: elapsed,
					Reason:        "max elapsed time exceeded",
				}
			}
		}

		if configCopy.OnRetry != nil {
			configCopy.OnRetry(attempt, lastErr, delay)
		}

		if err := configCopy.wait(ctx, delay); err != nil {
			return err
		}
	}

	return &RetriesExceededError{
		LastError:     lastErr,
		Attempts:      configCopy.MaxAttempts,
		TotalDuration: configCopy.Now().Sub(startTime),
		Reason:        "max attempts exceeded",
	}
}

func (c Config) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(delay):
		return nil
	}
}
