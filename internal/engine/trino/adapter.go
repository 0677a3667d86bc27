// Package trino provides the Trino distributed query engine adapter.
// Trino is read-oriented; the adapter reports no transaction support, so
// begin() against it fails with UnsupportedOperation.
package trino

import (
	"fmt"

	"github.com/switchboard-data/switchboard/internal/engine"

	_ "github.com/trinodb/trino-go-client/trino" // Trino driver
)

// Config configures the Trino adapter.
type Config struct {
	// Host is the Trino coordinator hostname.
	Host string

	// Port is the Trino coordinator port.
	Port int

	// Catalog is the default Trino catalog.
	Catalog string

	// Schema is the default Trino schema.
	Schema string

	// User is the Trino user for queries.
	User string

	// SSLMode controls TLS: "", "disable", "require".
	SSLMode string
}

// DSN renders the trino-go-client connection string.
// Format: http[s]://user@host:port?catalog=X&schema=Y
func (c Config) DSN() string {
	scheme := "http"
	if c.SSLMode == "require" {
		scheme = "https"
	}
	user := c.User
	if user == "" {
		user = "switchboard"
	}
	catalog := c.Catalog
	if catalog == "" {
		catalog = "memory"
	}
	schema := c.Schema
	if schema == "" {
		schema = "default"
	}
	return fmt.Sprintf("%s://%s@%s:%d?catalog=%s&schema=%s",
		scheme, user, c.Host, c.Port, catalog, schema)
}

// Adapter is the Trino engine adapter.
type Adapter struct {
	*engine.SQLAdapter
}

// NewAdapter opens a Trino adapter with the given engine id.
func NewAdapter(engineID string, config Config) (*Adapter, error) {
	base, err := engine.NewSQLAdapter(engineID, "trino", config.DSN(), engine.SQLOptions{
		Backend:      engine.BackendRelational,
		Dialect:      engine.DialectQuestion,
		Transactions: false,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{SQLAdapter: base}, nil
}
