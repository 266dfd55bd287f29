// Package retry provides a bounded, fixed-interval retry policy.
//
// The policy is a plain value so callers can inject it: production code uses
// DefaultConfig (500 attempts, 1ms apart), tests use a zero Interval or a fake
// After channel.
//
// Basic Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return someContendedOperation()
//	})
//
// Retrying only selected errors:
//
//	cfg := retry.Config{
//	    MaxAttempts: 50,
//	    Interval:    2 * time.Millisecond,
//	    OnRetry: func(attempt int, err error, delay time.Duration) {
//	        log.Printf("retry %d after %v: %v", attempt, delay, err)
//	    },
//	}
//	err := retry.DoWithRetryable(ctx, cfg, fn, isBusy)
//
// Exhaustion is reported as *RetriesExceededError, which unwraps to the last
// error returned by fn.
package retry
