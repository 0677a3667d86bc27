package engine

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"
)

// SQLOptions configures a database/sql-backed adapter.
type SQLOptions struct {
	Backend      BackendType
	Dialect      Dialect
	Transactions bool
	JSON         bool

	// LastInsertID enables LastInsertId() reporting; only meaningful for
	// drivers that implement it (sqlite, duckdb).
	LastInsertID bool

	// IsolationStatements enables SET TRANSACTION ISOLATION LEVEL after
	// BEGIN for engines that accept it (postgres).
	IsolationStatements bool

	// ProbeQuery is the statement used by health checks. Defaults to
	// "SELECT 1".
	ProbeQuery string
}

// SQLAdapter implements Adapter over any database/sql driver. The concrete
// engine packages wrap it with driver registration and DSN construction.
//
// Two handles are kept: db serves query traffic, probe serves health
// checks. Per docs/plan.md: "Monitoring never competes with traffic."
type SQLAdapter struct {
	mu     sync.RWMutex
	id     string
	db     *sql.DB
	probe  *sql.DB
	opts   SQLOptions
	closed bool
}

// NewSQLAdapter opens the query and probe handles for a driver/DSN pair.
func NewSQLAdapter(id, driverName, dsn string, opts SQLOptions) (*SQLAdapter, error) {
	if opts.ProbeQuery == "" {
		opts.ProbeQuery = "SELECT 1"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, sberrors.NewConnectionError(id, "failed to open engine", err)
	}
	// Pooling is owned by internal/pool; database/sql must not hoard
	// idle sessions underneath it.
	db.SetMaxIdleConns(0)

	probe, err := sql.Open(driverName, dsn)
	if err != nil {
		db.Close()
		return nil, sberrors.NewConnectionError(id, "failed to open probe handle", err)
	}
	probe.SetMaxOpenConns(1)

	return &SQLAdapter{id: id, db: db, probe: probe, opts: opts}, nil
}

// ID returns the engine id.
func (a *SQLAdapter) ID() string { return a.id }

// Backend returns the engine family.
func (a *SQLAdapter) Backend() BackendType { return a.opts.Backend }

// Dialect returns the placeholder dialect.
func (a *SQLAdapter) Dialect() Dialect { return a.opts.Dialect }

// SupportsTransactions reports transaction support.
func (a *SQLAdapter) SupportsTransactions() bool { return a.opts.Transactions }

// SupportsJSON reports JSON column support.
func (a *SQLAdapter) SupportsJSON() bool { return a.opts.JSON }

// Connect checks out a dedicated session from the driver.
func (a *SQLAdapter) Connect(ctx context.Context) (Conn, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	db := a.db
	a.mu.RUnlock()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, sberrors.NewConnectionError(a.id, "failed to establish connection", err)
	}
	return &sqlConn{engineID: a.id, conn: conn, opts: a.opts}, nil
}

// Bootstrap runs schema statements on the query handle. Used by adapters
// that own their backing schema (docstore).
func (a *SQLAdapter) Bootstrap(ctx context.Context, statements ...string) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	db := a.db
	a.mu.RUnlock()

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return sberrors.NewConnectionError(a.id, "schema bootstrap failed", err)
		}
	}
	return nil
}

// HealthCheck probes the dedicated handle and reports latency.
func (a *SQLAdapter) HealthCheck(ctx context.Context) (HealthStatus, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return HealthStatus{}, sberrors.NewConnectionError(a.id, "adapter is closed", nil)
	}
	probe := a.probe
	a.mu.RUnlock()

	start := time.Now()
	if err := probe.PingContext(ctx); err != nil {
		return HealthStatus{}, sberrors.NewConnectionError(a.id, "health probe failed", err)
	}
	if _, err := probe.ExecContext(ctx, a.opts.ProbeQuery); err != nil {
		return HealthStatus{}, sberrors.NewConnectionError(a.id, "probe query failed", err)
	}
	return HealthStatus{LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0}, nil
}

// Close releases both handles. Idempotent.
func (a *SQLAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	err := a.db.Close()
	if perr := a.probe.Close(); err == nil {
		err = perr
	}
	return err
}

// sqlConn adapts one *sql.Conn session to the Conn contract.
type sqlConn struct {
	engineID string
	conn     *sql.Conn
	opts     SQLOptions
	closed   bool
	mu       sync.Mutex
}

// Execute runs the statement with driver parameter binding and normalizes
// the result. Statements that return rows go through QueryContext;
// everything else through ExecContext so rows_affected is reported.
func (c *sqlConn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, sberrors.NewTimeout(c.engineID, "execute", err)
	}

	args := value.Natives(params)

	if returnsRows(command) {
		rows, err := c.conn.QueryContext(ctx, command, args...)
		if err != nil {
			return nil, classifyExecError(c.engineID, ctx, err)
		}
		defer rows.Close()
		return scanRows(c.engineID, ctx, rows)
	}

	res, err := c.conn.ExecContext(ctx, command, args...)
	if err != nil {
		return nil, classifyExecError(c.engineID, ctx, err)
	}

	result := &value.QueryResult{}
	if affected, err := res.RowsAffected(); err == nil {
		result.RowsAffected = &affected
	}
	if c.opts.LastInsertID {
		if id, err := res.LastInsertId(); err == nil {
			result.LastInsertID = &id
		}
	}
	return result, nil
}

// Ping verifies the session is still usable.
func (c *sqlConn) Ping(ctx context.Context) error {
	if err := c.conn.PingContext(ctx); err != nil {
		return sberrors.NewConnectionError(c.engineID, "connection lost", err)
	}
	return nil
}

// Close returns the session to the driver. Idempotent.
func (c *sqlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// returnsRows reports whether the statement produces a result set.
func returnsRows(command string) bool {
	trimmed := strings.TrimSpace(command)
	for strings.HasPrefix(trimmed, "--") {
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			trimmed = strings.TrimSpace(trimmed[nl+1:])
		} else {
			return false
		}
	}
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "SELECT"),
		strings.HasPrefix(upper, "WITH"),
		strings.HasPrefix(upper, "SHOW"),
		strings.HasPrefix(upper, "VALUES"),
		strings.HasPrefix(upper, "EXPLAIN"),
		strings.HasPrefix(upper, "DESCRIBE"),
		strings.HasPrefix(upper, "PRAGMA"):
		return true
	}
	// INSERT ... RETURNING and friends produce rows too.
	return strings.Contains(upper, " RETURNING ")
}

// scanRows drains a result set into the normalized row model.
func scanRows(engineID string, ctx context.Context, rows *sql.Rows) (*value.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, sberrors.NewQueryFailed(engineID, err)
	}

	result := &value.QueryResult{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, sberrors.NewTimeout(engineID, "row iteration", err)
		}

		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, sberrors.NewQueryFailed(engineID, err)
		}

		vals := make([]value.Value, len(columns))
		for i, r := range raw {
			vals[i] = value.FromNative(r)
		}
		result.Rows = append(result.Rows, value.Row{Columns: columns, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyExecError(engineID, ctx, err)
	}
	return result, nil
}

// classifyExecError maps a native driver error onto the taxonomy. Deadline
// and cancellation become Timeout so the pool evicts the connection.
func classifyExecError(engineID string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return sberrors.NewTimeout(engineID, "execute", err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "bad connection") {
		return sberrors.NewConnectionError(engineID, "connection failed during execute", err)
	}
	return sberrors.NewQueryFailed(engineID, err)
}
