package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// TestRetryable_RejectsNilError proves nil is never retryable.
func TestRetryable_RejectsNilError(t *testing.T) {
	if Retryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}

// TestRetryable_RejectsCancellation proves caller cancellation is never
// retried.
func TestRetryable_RejectsCancellation(t *testing.T) {
	if Retryable(context.Canceled) {
		t.Fatal("context.Canceled must not be retryable")
	}
	if Retryable(context.DeadlineExceeded) {
		t.Fatal("context.DeadlineExceeded must not be retryable")
	}
}

// TestRetryable_TransientCategoriesOnly proves only connection and
// timeout categories retry.
func TestRetryable_TransientCategoriesOnly(t *testing.T) {
	if !Retryable(sberrors.NewConnectionError("pg-main", "reset by peer", nil)) {
		t.Error("connection errors must be retryable")
	}
	if !Retryable(sberrors.NewTimeout("pg-main", "execute", nil)) {
		t.Error("timeouts must be retryable")
	}
	if Retryable(sberrors.NewParameterMismatch(2, 1)) {
		t.Error("parameter mismatches must not be retryable")
	}
	if Retryable(errors.New("unclassified")) {
		t.Error("unclassified errors must not be retryable")
	}
}

// TestExecuteWithRetry_SucceedsAfterTransientFailures proves a transient
// failure is retried until it succeeds, and every attempt is recorded.
func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	config := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	result := ExecuteWithRetry(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return sberrors.NewConnectionError("pg-main", "transient", nil)
		}
		return nil
	})

	if !result.Success {
		t.Fatalf("expected success, got %s", result)
	}
	if result.Attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", result.Attempts, calls)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 recorded errors, got %d", len(result.Errors))
	}
}

// TestExecuteWithRetry_StopsOnSemanticError proves a non-retryable error
// ends the loop on the first attempt.
func TestExecuteWithRetry_StopsOnSemanticError(t *testing.T) {
	calls := 0
	config := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}

	result := ExecuteWithRetry(context.Background(), config, func() error {
		calls++
		return sberrors.NewSecurityViolation("tautology", "OR 1=1")
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("semantic errors must not retry; got %d calls", calls)
	}
}

// TestExecuteWithRetry_HonorsContext proves an already-cancelled context
// prevents any attempt from running.
func TestExecuteWithRetry_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := ExecuteWithRetry(ctx, DefaultRetryConfig(), func() error {
		calls++
		return nil
	})

	if result.Success {
		t.Fatal("expected failure under cancelled context")
	}
	if calls != 0 {
		t.Fatalf("expected no attempts, got %d", calls)
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", result.LastError)
	}
}
