// Package bigquery provides the Google BigQuery engine adapter.
// BigQuery is analytical and read-oriented; the adapter reports no
// transaction support.
package bigquery

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"
)

// Config configures the BigQuery adapter.
type Config struct {
	// ProjectID is the GCP project ID.
	ProjectID string

	// CredentialsJSON is the service account key. Empty means Application
	// Default Credentials.
	CredentialsJSON string

	// Location is the BigQuery region (e.g. "US", "EU").
	Location string

	// DefaultDataset is the dataset for unqualified table names.
	DefaultDataset string
}

// Adapter is the BigQuery engine adapter.
type Adapter struct {
	mu     sync.RWMutex
	id     string
	config Config
	client *bigquery.Client
	closed bool
}

// NewAdapter creates a BigQuery adapter with the given engine id.
func NewAdapter(ctx context.Context, engineID string, config Config) (*Adapter, error) {
	var opts []option.ClientOption
	if config.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	}

	client, err := bigquery.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, sberrors.NewConnectionError(engineID, "failed to create bigquery client", err)
	}

	return &Adapter{id: engineID, config: config, client: client}, nil
}

// ID returns the engine id.
func (a *Adapter) ID() string { return a.id }

// Backend returns the engine family.
func (a *Adapter) Backend() engine.BackendType { return engine.BackendRelational }

// Dialect returns the placeholder dialect. BigQuery standard SQL takes
// positional ? parameters.
func (a *Adapter) Dialect() engine.Dialect { return engine.DialectQuestion }

// SupportsTransactions reports false; BigQuery jobs are not sessions.
func (a *Adapter) SupportsTransactions() bool { return false }

// SupportsJSON reports JSON column support.
func (a *Adapter) SupportsJSON() bool { return true }

// Connect returns a connection handle. BigQuery is stateless over HTTP, so
// every Conn shares the client; exclusivity is still honored because the
// handle carries no session state.
func (a *Adapter) Connect(ctx context.Context) (engine.Conn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	return &conn{adapter: a}, nil
}

// HealthCheck runs a trivial query and reports latency.
func (a *Adapter) HealthCheck(ctx context.Context) (engine.HealthStatus, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return engine.HealthStatus{}, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	client := a.client
	a.mu.RUnlock()

	start := time.Now()
	q := client.Query("SELECT 1")
	if a.config.Location != "" {
		q.Location = a.config.Location
	}
	if _, err := q.Read(ctx); err != nil {
		return engine.HealthStatus{}, sberrors.NewConnectionError(a.id, "health probe failed", err)
	}
	return engine.HealthStatus{LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0}, nil
}

// Close releases the client. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.client.Close()
}

type conn struct {
	adapter *Adapter
}

// Execute runs the query with positional parameters bound through the
// BigQuery SDK and normalizes the result rows.
func (c *conn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	a := c.adapter
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	client := a.client
	a.mu.RUnlock()

	q := client.Query(command)
	if a.config.DefaultDataset != "" {
		q.DefaultDatasetID = a.config.DefaultDataset
	}
	if a.config.Location != "" {
		q.Location = a.config.Location
	}
	for _, p := range params {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Value: p.Native()})
	}

	it, err := q.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, sberrors.NewTimeout(a.id, "execute", err)
		}
		return nil, sberrors.NewQueryFailed(a.id, err)
	}
	return collectRows(a.id, ctx, it)
}

// Ping verifies the client is reachable.
func (c *conn) Ping(ctx context.Context) error {
	_, err := c.adapter.HealthCheck(ctx)
	return err
}

// Close is a no-op; the handle carries no session state.
func (c *conn) Close() error { return nil }

func collectRows(engineID string, ctx context.Context, it *bigquery.RowIterator) (*value.QueryResult, error) {
	result := &value.QueryResult{}
	var columns []string

	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, sberrors.NewTimeout(engineID, "row iteration", err)
			}
			return nil, sberrors.NewQueryFailed(engineID, err)
		}

		if columns == nil {
			columns = make([]string, len(it.Schema))
			for i, field := range it.Schema {
				columns[i] = field.Name
			}
		}

		vals := make([]value.Value, len(row))
		for i, v := range row {
			vals[i] = value.FromNative(v)
		}
		result.Rows = append(result.Rows, value.Row{Columns: columns, Values: vals})
	}
	return result, nil
}
