// Package sqlite provides the SQLite engine adapter, backed by the pure-Go
// modernc.org/sqlite driver. Used for local development and as the
// in-process engine in tests.
package sqlite

import (
	"github.com/switchboard-data/switchboard/internal/engine"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config configures the SQLite adapter.
type Config struct {
	// Path is the database file path. Empty or ":memory:" opens an
	// in-memory database shared across the adapter's connections.
	Path string
}

// Adapter is the SQLite engine adapter.
type Adapter struct {
	*engine.SQLAdapter
}

// NewAdapter opens a SQLite adapter with the given engine id.
func NewAdapter(engineID string, config Config) (*Adapter, error) {
	dsn := config.Path
	if dsn == "" || dsn == ":memory:" {
		// A plain :memory: DSN gives every session its own database;
		// a shared cache keeps the pool coherent.
		dsn = "file:" + engineID + "?mode=memory&cache=shared"
	}
	base, err := engine.NewSQLAdapter(engineID, "sqlite", dsn, engine.SQLOptions{
		Backend:      engine.BackendRelational,
		Dialect:      engine.DialectQuestion,
		Transactions: true,
		JSON:         true,
		LastInsertID: true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{SQLAdapter: base}, nil
}
