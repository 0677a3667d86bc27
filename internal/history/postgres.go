package history

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepository persists switch events to the switch_events table
// (see migrations). Unlike the audit pipeline this writes synchronously:
// switches are rare and their record must survive a crash.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open handle. The caller owns the handle
// and runs migrations before use.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, event SwitchEvent) error {
	var errText sql.NullString
	if event.Error != "" {
		errText = sql.NullString{String: event.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO switch_events
			(id, kind, role, from_engine, to_engine, reason, success, error, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, string(event.Kind), event.Role, event.FromEngine, event.ToEngine,
		event.Reason, event.Success, errText, event.StartedAt, event.CompletedAt, event.DurationMS)
	if err != nil {
		return fmt.Errorf("recording switch event %s: %w", event.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]SwitchEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, role, from_engine, to_engine, reason, success, error, started_at, completed_at, duration_ms
		FROM switch_events
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing switch events: %w", err)
	}
	defer rows.Close()

	var events []SwitchEvent
	for rows.Next() {
		var event SwitchEvent
		var kind string
		var errText sql.NullString
		if err := rows.Scan(&event.ID, &kind, &event.Role, &event.FromEngine, &event.ToEngine,
			&event.Reason, &event.Success, &errText, &event.StartedAt, &event.CompletedAt, &event.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning switch event: %w", err)
		}
		event.Kind = Kind(kind)
		event.Error = errText.String
		events = append(events, event)
	}
	return events, rows.Err()
}
