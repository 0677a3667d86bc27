// Package snowflake provides the Snowflake data warehouse adapter.
package snowflake

import (
	"github.com/snowflakedb/gosnowflake"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// Config configures the Snowflake adapter.
type Config struct {
	Account   string
	User      string
	Password  string
	Database  string
	Schema    string
	Warehouse string
	Role      string
}

// Adapter is the Snowflake engine adapter.
type Adapter struct {
	*engine.SQLAdapter
}

// NewAdapter opens a Snowflake adapter with the given engine id.
func NewAdapter(engineID string, config Config) (*Adapter, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   config.Account,
		User:      config.User,
		Password:  config.Password,
		Database:  config.Database,
		Schema:    config.Schema,
		Warehouse: config.Warehouse,
		Role:      config.Role,
	})
	if err != nil {
		return nil, sberrors.NewConnectionError(engineID, "invalid snowflake configuration", err)
	}

	base, err := engine.NewSQLAdapter(engineID, "snowflake", dsn, engine.SQLOptions{
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
