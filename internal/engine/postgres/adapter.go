// Package postgres provides the PostgreSQL engine adapter.
package postgres

import (
	"fmt"

	"github.com/switchboard-data/switchboard/internal/engine"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config configures the PostgreSQL adapter.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// Adapter is the PostgreSQL engine adapter.
type Adapter struct {
	*engine.SQLAdapter
}

// NewAdapter opens a PostgreSQL adapter with the given engine id.
func NewAdapter(engineID string, config Config) (*Adapter, error) {
	base, err := engine.NewSQLAdapter(engineID, "postgres", config.DSN(), engine.SQLOptions{
		Backend:             engine.BackendRelational,
		Dialect:             engine.DialectDollar,
		Transactions:        true,
		JSON:                true,
		IsolationStatements: true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{SQLAdapter: base}, nil
}
