// Package errors provides the explicit error taxonomy for switchboard.
// Every error carries a category, a reason, and a suggestion for the caller.
//
// Per docs/plan.md: "Errors must be understandable. Raw driver errors never
// cross the manager boundary unclassified."
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error for retry policy and propagation decisions.
type Category string

const (
	// CategoryConnection covers transient pool/network-level failures.
	// Retryable by the caller with backoff.
	CategoryConnection Category = "connection"

	// CategoryQuery covers caller mistakes: parameter mismatch, malformed
	// command. Never retried automatically.
	CategoryQuery Category = "query"

	// CategorySecurity covers rejected query templates. Never retried,
	// always audited.
	CategorySecurity Category = "security"

	// CategoryTransaction covers transaction state misuse, such as a
	// double commit.
	CategoryTransaction Category = "transaction"

	// CategorySwitch covers failures contained inside the switch
	// orchestrator. A switch error never leaks a half-switched state.
	CategorySwitch Category = "switch"

	// CategoryTimeout covers bounded operations that ran out of time.
	// Retryable with backoff up to a policy-defined attempt count.
	CategoryTimeout Category = "timeout"

	// CategoryUnavailable is emitted only when no engine for a logical
	// role is healthy. Fatal for the current request.
	CategoryUnavailable Category = "unavailable"

	// CategoryAccess covers pre-check denials from the access module.
	CategoryAccess Category = "access"
)

// SwitchboardError is the base error type for all switchboard errors.
type SwitchboardError struct {
	Category   Category
	Message    string
	Reason     string
	Suggestion string

	// EngineID tags the error with the engine it originated from,
	// when one is known.
	EngineID string

	Cause error
}

func (e *SwitchboardError) Error() string {
	msg := e.Message
	if e.EngineID != "" {
		msg = fmt.Sprintf("[%s] %s", e.EngineID, msg)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *SwitchboardError) Unwrap() error {
	return e.Cause
}

// CategoryOf returns the category of an error, or "" if the error is not
// a SwitchboardError.
func CategoryOf(err error) Category {
	var se *SwitchboardError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// IsRetryable reports whether the caller may retry the failed operation
// with backoff. Per docs/plan.md: "Only transient categories (connection,
// timeout) are eligible."
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryConnection, CategoryTimeout:
		return true
	}
	return false
}

// IsTimeout reports whether the error is a timeout.
func IsTimeout(err error) bool {
	return CategoryOf(err) == CategoryTimeout
}

// IsUnavailable reports whether the error signals total engine loss.
func IsUnavailable(err error) bool {
	return CategoryOf(err) == CategoryUnavailable
}

// NewConnectionError wraps a transient network or pool failure.
func NewConnectionError(engineID, message string, cause error) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryConnection,
		Message:    message,
		Reason:     "the engine connection failed or was lost",
		Suggestion: "retry with backoff; check engine status with 'switchboard engine list'",
		EngineID:   engineID,
		Cause:      cause,
	}
}

// NewQueryFailed wraps a native driver error from query execution.
func NewQueryFailed(engineID string, cause error) *SwitchboardError {
	return &SwitchboardError{
		Category: CategoryQuery,
		Message:  "query execution failed",
		Reason:   "the engine rejected the statement",
		EngineID: engineID,
		Cause:    cause,
	}
}

// ErrParameterMismatch is returned when the bound parameter count does not
// match the placeholder count of a prepared statement. The check happens
// before any network call.
type ErrParameterMismatch struct {
	SwitchboardError
	Expected int
	Got      int
}

// NewParameterMismatch creates a new ErrParameterMismatch.
func NewParameterMismatch(expected, got int) *ErrParameterMismatch {
	return &ErrParameterMismatch{
		SwitchboardError: SwitchboardError{
			Category:   CategoryQuery,
			Message:    "parameter count mismatch",
			Reason:     fmt.Sprintf("statement expects %d parameters, got %d", expected, got),
			Suggestion: "bind exactly one value per placeholder in the template",
		},
		Expected: expected,
		Got:      got,
	}
}

// Unwrap exposes the embedded base so CategoryOf sees the subtype.
func (e *ErrParameterMismatch) Unwrap() error { return &e.SwitchboardError }

// ErrTypeConversionFailed is returned when a bound value cannot be
// represented in the engine's native type system.
type ErrTypeConversionFailed struct {
	SwitchboardError
	Value      string
	TargetType string
}

// NewTypeConversionFailed creates a new ErrTypeConversionFailed.
func NewTypeConversionFailed(value, targetType string) *ErrTypeConversionFailed {
	return &ErrTypeConversionFailed{
		SwitchboardError: SwitchboardError{
			Category:   CategoryQuery,
			Message:    "type conversion failed",
			Reason:     fmt.Sprintf("value %q cannot be converted to %s", value, targetType),
			Suggestion: "check the column type and the bound value variant",
		},
		Value:      value,
		TargetType: targetType,
	}
}

// Unwrap exposes the embedded base so CategoryOf sees the subtype.
func (e *ErrTypeConversionFailed) Unwrap() error { return &e.SwitchboardError }

// ErrSecurityViolation is returned when the security gate matches an
// attack-indicative pattern in a query template.
type ErrSecurityViolation struct {
	SwitchboardError
	Pattern string
}

// NewSecurityViolation creates a new ErrSecurityViolation.
func NewSecurityViolation(pattern, detail string) *ErrSecurityViolation {
	return &ErrSecurityViolation{
		SwitchboardError: SwitchboardError{
			Category:   CategorySecurity,
			Message:    "query rejected by security gate",
			Reason:     fmt.Sprintf("template matched pattern %q: %s", pattern, detail),
			Suggestion: "pass user input as bound parameters, never inside the template",
		},
		Pattern: pattern,
	}
}

// Unwrap exposes the embedded base so CategoryOf sees the subtype.
func (e *ErrSecurityViolation) Unwrap() error { return &e.SwitchboardError }

// NewTransactionAlreadyClosed is returned when commit or rollback is called
// on a transaction that already reached a terminal state.
func NewTransactionAlreadyClosed(txID, state string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryTransaction,
		Message:    "transaction already closed",
		Reason:     fmt.Sprintf("transaction %s is %s; commit and rollback are terminal", txID, state),
		Suggestion: "begin a new transaction",
	}
}

// NewSavepointNotFound is returned when a savepoint name is not on the stack.
func NewSavepointNotFound(name string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryTransaction,
		Message:    fmt.Sprintf("savepoint not found: %s", name),
		Reason:     "the name is not on the transaction's savepoint stack",
		Suggestion: "savepoints released or invalidated by a rollback cannot be reused",
	}
}

// NewUnsupportedOperation is returned when an engine cannot honor an
// operation, e.g. begin() on an engine without transaction support.
func NewUnsupportedOperation(engineID, operation string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryQuery,
		Message:    fmt.Sprintf("%s not supported", operation),
		Reason:     fmt.Sprintf("engine %s does not support %s", engineID, operation),
		Suggestion: "check engine capabilities with 'switchboard engine describe'",
	}
}

// NewPoolExhausted is returned when connection checkout times out with the
// pool at capacity.
func NewPoolExhausted(engineID string, max int) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryConnection,
		Message:    "connection pool exhausted",
		Reason:     fmt.Sprintf("all %d connections are checked out and none freed within the timeout", max),
		Suggestion: "raise max_connections or reduce connection hold times",
		EngineID:   engineID,
	}
}

// NewTimeout is returned when a bounded operation exceeds its deadline.
// The connection involved is evicted, not returned to the pool.
func NewTimeout(engineID, operation string, cause error) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		Reason:     "the operation exceeded its deadline; the connection was evicted",
		Suggestion: "retry with backoff or raise the request timeout",
		EngineID:   engineID,
		Cause:      cause,
	}
}

// NewServiceUnavailable is returned when no engine for a logical role is
// healthy. Surfaced uniformly to every concurrent caller until recovery.
func NewServiceUnavailable(role string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryUnavailable,
		Message:    "no healthy engine available",
		Reason:     fmt.Sprintf("every engine for role %q is failed or unregistered", role),
		Suggestion: "check engine health with 'switchboard doctor' and recover a failed engine",
	}
}

// NewAccessDenied is returned when the access pre-check denies the request
// before any connection is checked out.
func NewAccessDenied(principal, resource, action string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryAccess,
		Message:    "access denied",
		Reason:     fmt.Sprintf("%s may not %s on %s", principal, action, resource),
		Suggestion: "request a grant for this resource and action",
	}
}

// NewTargetNotHealthy rejects a graceful switch whose target is not healthy.
func NewTargetNotHealthy(target, health string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategorySwitch,
		Message:    fmt.Sprintf("switch target %s is not healthy", target),
		Reason:     fmt.Sprintf("target health is %s; graceful switches require a healthy target", health),
		Suggestion: "wait for the target to pass a health check or pick another engine",
	}
}

// NewSwitchValidationFailed reports a reverted switch. The active pointer
// is back on the previous engine and the target is marked failed.
func NewSwitchValidationFailed(target string, cause error) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategorySwitch,
		Message:    "post-switch validation failed",
		Reason:     fmt.Sprintf("validation query against %s failed; the switch was reverted", target),
		Suggestion: "investigate the target engine before retrying the switch",
		EngineID:   target,
		Cause:      cause,
	}
}

// NewEngineNotFound is returned when a named engine is not registered.
func NewEngineNotFound(engineID string) *SwitchboardError {
	return &SwitchboardError{
		Category:   CategoryQuery,
		Message:    fmt.Sprintf("engine not found: %s", engineID),
		Reason:     "no engine registered with this id",
		Suggestion: "list registered engines with 'switchboard engine list'",
	}
}
