// Retry logic for transient failures.
//
// Per docs/plan.md: "No silent retries. No hidden fallbacks." This helper
// is explicit: callers opt in and receive a RetryResult describing every
// attempt.
package engine

import (
	"context"
	"fmt"
	"time"

	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the
	// first try. Default: 3.
	MaxAttempts int

	// InitialDelay is the initial delay between retries. Default: 100ms.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries. Default: 5s.
	MaxDelay time.Duration

	// BackoffMultiplier is the exponential backoff factor. Default: 2.0.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryResult contains the result of a retry operation.
type RetryResult struct {
	// Attempts is the number of attempts made.
	Attempts int

	// LastError is the last error encountered (nil if successful).
	LastError error

	// Errors contains the error from each attempt.
	Errors []error

	// Success indicates whether the operation ultimately succeeded.
	Success bool
}

// String provides a human-readable summary of the retry result.
func (r RetryResult) String() string {
	if r.Success {
		if r.Attempts == 1 {
			return "succeeded on first attempt"
		}
		return fmt.Sprintf("succeeded after %d attempts", r.Attempts)
	}
	return fmt.Sprintf("failed after %d attempts: %v", r.Attempts, r.LastError)
}

// Retryable determines whether an error is transient and worth retrying.
// Only the connection and timeout categories qualify; semantic errors,
// security rejections, and caller cancellation never retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	return sberrors.IsRetryable(err)
}

// ExecuteWithRetry executes fn with explicit retry logic. Retries occur
// only for errors Retryable reports true for, with exponential backoff
// between attempts.
func ExecuteWithRetry(ctx context.Context, config RetryConfig, fn func() error) RetryResult {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}

	result := RetryResult{
		Errors: make([]error, 0, config.MaxAttempts),
	}

	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.Errors = append(result.Errors, ctx.Err())
			return result
		}

		err := fn()
		if err == nil {
			result.Success = true
			return result
		}

		result.LastError = err
		result.Errors = append(result.Errors, err)

		if !Retryable(err) {
			return result
		}

		if attempt < config.MaxAttempts {
			select {
			case <-ctx.Done():
				result.LastError = ctx.Err()
				result.Errors = append(result.Errors, ctx.Err())
				return result
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.BackoffMultiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			}
		}
	}

	return result
}
