// Package duckdb provides the DuckDB engine adapter for analytical
// workloads.
package duckdb

import (
	"github.com/switchboard-data/switchboard/internal/engine"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// Config configures the DuckDB adapter.
type Config struct {
	// DatabasePath is the DuckDB file path; empty means in-memory.
	DatabasePath string
}

// Adapter is the DuckDB engine adapter.
type Adapter struct {
	*engine.SQLAdapter
}

// NewAdapter opens a DuckDB adapter with the given engine id.
func NewAdapter(engineID string, config Config) (*Adapter, error) {
	base, err := engine.NewSQLAdapter(engineID, "duckdb", config.DatabasePath, engine.SQLOptions{
		Backend:      engine.BackendRelational,
		Dialect:      engine.DialectQuestion,
		Transactions: true,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{SQLAdapter: base}, nil
}
