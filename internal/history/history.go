// Package history is the append-only record of engine switches.
//
// Per docs/plan.md: "Switches are atomic or they didn't happen", but
// either way they leave a record. Failed switch attempts are recorded
// with the same fidelity as successful ones.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes how a switch was initiated.
type Kind string

const (
	KindGraceful  Kind = "graceful"
	KindEmergency Kind = "emergency_failover"
	KindPolicy    Kind = "policy"
)

// SwitchEvent is one switch attempt, successful or not.
type SwitchEvent struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Role        string    `json:"role"`
	FromEngine  string    `json:"from_engine"`
	ToEngine    string    `json:"to_engine"`
	Reason      string    `json:"reason"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  float64   `json:"duration_ms"`
}

// NewSwitchEvent stamps an event with an id and computed duration.
func NewSwitchEvent(kind Kind, role, from, to, reason string, success bool, attemptErr error, started time.Time) SwitchEvent {
	completed := time.Now()
	event := SwitchEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		Role:        role,
		FromEngine:  from,
		ToEngine:    to,
		Reason:      reason,
		Success:     success,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  float64(completed.Sub(started).Microseconds()) / 1000.0,
	}
	if attemptErr != nil {
		event.Error = attemptErr.Error()
	}
	return event
}

// Repository stores switch events.
type Repository interface {
	// Record appends one event. Append-only: events are never updated
	// or deleted.
	Record(ctx context.Context, event SwitchEvent) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]SwitchEvent, error)
}

// MemoryRepository keeps events in memory. The daemon uses it when no
// history database is configured; tests use it directly.
type MemoryRepository struct {
	mu     sync.Mutex
	events []SwitchEvent
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Record(_ context.Context, event SwitchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *MemoryRepository) Recent(_ context.Context, limit int) ([]SwitchEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	out := make([]SwitchEvent, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}
