// Package docstore provides the document engine adapter. Documents are
// JSON bodies grouped into collections, stored in an embedded SQLite
// database and queried through JSON path extraction.
//
// Commands arrive as JSON envelopes, e.g.
//
//	{"operation":"insert","collection":"users","document":{"name":"$1"}}
//	{"operation":"find","collection":"users","filter":{"name":"$1"}}
//
// The translation layer builds fixed SQL templates and binds every
// envelope value through driver parameters.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config configures the document store adapter.
type Config struct {
	// Path is the backing database file path; empty means in-memory.
	Path string
}

// Adapter is the document engine adapter.
type Adapter struct {
	*engine.SQLAdapter
}

// NewAdapter opens a document store with the given engine id and creates
// the backing schema.
func NewAdapter(ctx context.Context, engineID string, config Config) (*Adapter, error) {
	dsn := config.Path
	if dsn == "" || dsn == ":memory:" {
		dsn = "file:" + engineID + "?mode=memory&cache=shared"
	}
	base, err := engine.NewSQLAdapter(engineID, "sqlite", dsn, engine.SQLOptions{
		Backend:      engine.BackendDocument,
		Dialect:      engine.DialectEnvelope,
		Transactions: true,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}

	if err := base.Bootstrap(ctx,
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	); err != nil {
		base.Close()
		return nil, err
	}
	return &Adapter{SQLAdapter: base}, nil
}

// Connect wraps the session with the envelope translation layer.
func (a *Adapter) Connect(ctx context.Context) (engine.Conn, error) {
	inner, err := a.SQLAdapter.Connect(ctx)
	if err != nil {
		return nil, err
	}
	tx, _ := inner.(engine.TxConn)
	return &conn{engineID: a.ID(), inner: inner, tx: tx}, nil
}

// conn translates envelopes into SQL over the embedded store. Transaction
// methods delegate to the underlying session.
type conn struct {
	engineID string
	inner    engine.Conn
	tx       engine.TxConn
}

// Execute translates a command envelope and runs it with bound parameters.
func (c *conn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	env, err := engine.ParseEnvelope(command, params)
	if err != nil {
		return nil, sberrors.NewQueryFailed(c.engineID, err)
	}
	if env.Collection == "" {
		return nil, sberrors.NewQueryFailed(c.engineID, fmt.Errorf("envelope missing collection"))
	}

	switch env.Operation {
	case "find":
		return c.find(ctx, env)
	case "count":
		return c.count(ctx, env)
	case "insert":
		return c.insert(ctx, env)
	case "update":
		return c.update(ctx, env)
	case "delete":
		return c.delete(ctx, env)
	default:
		return nil, sberrors.NewQueryFailed(c.engineID,
			fmt.Errorf("unsupported operation %q", env.Operation))
	}
}

func (c *conn) find(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	where, args := filterClause(env.Collection, env.Filter)
	sql := "SELECT id, body FROM documents WHERE " + where + " ORDER BY id"
	if env.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", env.Limit)
	}
	return c.inner.Execute(ctx, sql, args)
}

func (c *conn) count(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	where, args := filterClause(env.Collection, env.Filter)
	return c.inner.Execute(ctx, "SELECT COUNT(*) AS count FROM documents WHERE "+where, args)
}

func (c *conn) insert(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	if env.Document == nil {
		return nil, sberrors.NewQueryFailed(c.engineID, fmt.Errorf("insert requires a document"))
	}
	body, err := json.Marshal(env.Document)
	if err != nil {
		return nil, sberrors.NewQueryFailed(c.engineID, err)
	}
	id := env.Key
	if id == "" {
		id = uuid.NewString()
	}
	res, err := c.inner.Execute(ctx,
		"INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)",
		[]value.Value{value.String(env.Collection), value.String(id), value.String(string(body))})
	if err != nil {
		return nil, err
	}
	res.Rows = []value.Row{{Columns: []string{"id"}, Values: []value.Value{value.String(id)}}}
	return res, nil
}

func (c *conn) update(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	if len(env.Update) == 0 {
		return nil, sberrors.NewQueryFailed(c.engineID, fmt.Errorf("update requires update fields"))
	}

	// json_set(body, '$.a', ?, '$.b', ?) with paths and values all bound.
	setArgs := make([]value.Value, 0, len(env.Update)*2)
	placeholders := make([]string, 0, len(env.Update))
	for _, field := range sortedKeys(env.Update) {
		placeholders = append(placeholders, "?, ?")
		setArgs = append(setArgs, value.String("$."+field), value.FromNative(env.Update[field]))
	}
	where, whereArgs := filterClause(env.Collection, env.Filter)

	sql := "UPDATE documents SET body = json_set(body, " + strings.Join(placeholders, ", ") + ") WHERE " + where
	return c.inner.Execute(ctx, sql, append(setArgs, whereArgs...))
}

func (c *conn) delete(ctx context.Context, env *engine.Envelope) (*value.QueryResult, error) {
	where, args := filterClause(env.Collection, env.Filter)
	return c.inner.Execute(ctx, "DELETE FROM documents WHERE "+where, args)
}

// filterClause renders the WHERE clause for a collection and equality
// filter. Field paths and values are bound parameters; keys are iterated
// in sorted order so the statement shape is deterministic.
func filterClause(collection string, filter map[string]interface{}) (string, []value.Value) {
	clauses := []string{"collection = ?"}
	args := []value.Value{value.String(collection)}
	for _, field := range sortedKeys(filter) {
		clauses = append(clauses, "json_extract(body, ?) = ?")
		args = append(args, value.String("$."+field), value.FromNative(filter[field]))
	}
	return strings.Join(clauses, " AND "), args
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ping verifies the session is still usable.
func (c *conn) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }

// Close returns the session. Idempotent.
func (c *conn) Close() error { return c.inner.Close() }

// BeginTx opens a transaction on the underlying session.
func (c *conn) BeginTx(ctx context.Context, level engine.IsolationLevel) error {
	return c.tx.BeginTx(ctx, level)
}

// Commit makes the transaction durable.
func (c *conn) Commit(ctx context.Context) error { return c.tx.Commit(ctx) }

// Rollback discards the transaction.
func (c *conn) Rollback(ctx context.Context) error { return c.tx.Rollback(ctx) }

// Savepoint establishes a named rollback point.
func (c *conn) Savepoint(ctx context.Context, name string) error {
	return c.tx.Savepoint(ctx, name)
}

// RollbackToSavepoint rewinds to a named savepoint.
func (c *conn) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.tx.RollbackToSavepoint(ctx, name)
}

// ReleaseSavepoint removes a savepoint without rolling back data.
func (c *conn) ReleaseSavepoint(ctx context.Context, name string) error {
	return c.tx.ReleaseSavepoint(ctx, name)
}
