package audit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresLogger persists audit events to PostgreSQL through a buffered
// channel so delivery never blocks the originating operation. Events are
// dropped when the buffer is full; audit is best-effort by contract.
type PostgresLogger struct {
	db     *sql.DB
	events chan Event
	done   chan struct{}
}

// NewPostgresLogger creates a persistent audit logger and starts its
// delivery loop.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	l := &PostgresLogger{
		db:     db,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go l.deliver()
	return l
}

// LogSecurityAttack records a rejected query template.
func (l *PostgresLogger) LogSecurityAttack(ctx context.Context, pattern, detail, source string) {
	l.enqueue(Event{
		Timestamp: time.Now().UTC(),
		Type:      EventSecurityAttack,
		Pattern:   pattern,
		Detail:    detail,
		Source:    source,
	})
}

// LogDataAccess records a data access decision.
func (l *PostgresLogger) LogDataAccess(ctx context.Context, principal, resource, action string, success bool) {
	l.enqueue(Event{
		Timestamp: time.Now().UTC(),
		Type:      EventDataAccess,
		Principal: principal,
		Resource:  resource,
		Action:    action,
		Success:   success,
	})
}

func (l *PostgresLogger) enqueue(e Event) {
	select {
	case l.events <- e:
	default:
		// Buffer full: drop rather than block the caller.
	}
}

func (l *PostgresLogger) deliver() {
	for e := range l.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		l.db.ExecContext(ctx, `
			INSERT INTO audit_events (
				occurred_at, event_type, pattern, detail, source,
				principal, resource, action, success
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			e.Timestamp, string(e.Type),
			nullable(e.Pattern), nullable(e.Detail), nullable(e.Source),
			nullable(e.Principal), nullable(e.Resource), nullable(e.Action),
			e.Success,
		)
		cancel()
	}
	close(l.done)
}

// Close stops the delivery loop after draining queued events.
func (l *PostgresLogger) Close() {
	close(l.events)
	<-l.done
}

// nullable converts empty strings to nil for SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
