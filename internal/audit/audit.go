// Package audit provides structured audit logging for switchboard.
// Audit delivery is best-effort: a sink failure never fails or delays the
// operation that produced the event.
//
// Per docs/plan.md: "Structured logging only. Audit and switch history are
// append-only records."
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType classifies an audit event.
type EventType string

const (
	EventSecurityAttack EventType = "security_attack"
	EventDataAccess     EventType = "data_access"
)

// Event is one append-only audit record. Events are never mutated after
// creation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Security attack fields.
	Pattern string `json:"pattern,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Source  string `json:"source,omitempty"`

	// Data access fields.
	Principal string `json:"principal,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Action    string `json:"action,omitempty"`
	Success   bool   `json:"success,omitempty"`
}

// Logger is the audit sink contract. Implementations must never return
// errors to callers and must never block the calling path on delivery.
type Logger interface {
	// LogSecurityAttack records a rejected query template.
	LogSecurityAttack(ctx context.Context, pattern, detail, source string)

	// LogDataAccess records a data access decision.
	LogDataAccess(ctx context.Context, principal, resource, action string, success bool)
}

// JSONLogger writes audit events as JSON lines. Write failures are
// swallowed; audit is best-effort by contract.
type JSONLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONLogger creates a logger writing JSON lines to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w}
}

// LogSecurityAttack records a rejected query template.
func (l *JSONLogger) LogSecurityAttack(ctx context.Context, pattern, detail, source string) {
	l.write(Event{
		Timestamp: time.Now().UTC(),
		Type:      EventSecurityAttack,
		Pattern:   pattern,
		Detail:    detail,
		Source:    source,
	})
}

// LogDataAccess records a data access decision.
func (l *JSONLogger) LogDataAccess(ctx context.Context, principal, resource, action string, success bool) {
	l.write(Event{
		Timestamp: time.Now().UTC(),
		Type:      EventDataAccess,
		Principal: principal,
		Resource:  resource,
		Action:    action,
		Success:   success,
	})
}

func (l *JSONLogger) write(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}

// MemoryLogger records events in memory. Used in tests and as the dev
// default.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// LogSecurityAttack records a rejected query template.
func (l *MemoryLogger) LogSecurityAttack(ctx context.Context, pattern, detail, source string) {
	l.append(Event{
		Timestamp: time.Now().UTC(),
		Type:      EventSecurityAttack,
		Pattern:   pattern,
		Detail:    detail,
		Source:    source,
	})
}

// LogDataAccess records a data access decision.
func (l *MemoryLogger) LogDataAccess(ctx context.Context, principal, resource, action string, success bool) {
	l.append(Event{
		Timestamp: time.Now().UTC(),
		Type:      EventDataAccess,
		Principal: principal,
		Resource:  resource,
		Action:    action,
		Success:   success,
	})
}

func (l *MemoryLogger) append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of the recorded events.
func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// NoopLogger discards all events.
type NoopLogger struct{}

// NewNoopLogger creates a no-op audit logger.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

// LogSecurityAttack does nothing.
func (*NoopLogger) LogSecurityAttack(ctx context.Context, pattern, detail, source string) {}

// LogDataAccess does nothing.
func (*NoopLogger) LogDataAccess(ctx context.Context, principal, resource, action string, success bool) {
}
