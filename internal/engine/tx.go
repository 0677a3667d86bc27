package engine

import (
	"context"
	"fmt"
	"regexp"

	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// IsolationLevel is the concurrency-visibility contract of a transaction.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	ReadCommitted   IsolationLevel = "READ COMMITTED"
	RepeatableRead  IsolationLevel = "REPEATABLE READ"
	Serializable    IsolationLevel = "SERIALIZABLE"
)

// TxConn is implemented by connections whose engine honors the transaction
// protocol. Connections of engines answering SupportsTransactions() false
// do not implement it.
type TxConn interface {
	Conn

	// BeginTx opens a transaction at the given isolation level.
	BeginTx(ctx context.Context, level IsolationLevel) error

	// Commit makes the transaction's writes durable.
	Commit(ctx context.Context) error

	// Rollback discards the transaction's writes.
	Rollback(ctx context.Context) error

	// Savepoint establishes a named rollback point.
	Savepoint(ctx context.Context, name string) error

	// RollbackToSavepoint rewinds to a named savepoint, which remains
	// usable afterwards.
	RollbackToSavepoint(ctx context.Context, name string) error

	// ReleaseSavepoint removes a savepoint without rolling back data.
	ReleaseSavepoint(ctx context.Context, name string) error
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidSavepointName reports whether a name is safe to appear in a
// SAVEPOINT statement. Names never carry caller data in raw form.
func ValidSavepointName(name string) bool {
	return savepointName.MatchString(name)
}

// BeginTx opens a transaction on the session. Engines with isolation
// statements get SET TRANSACTION ISOLATION LEVEL after BEGIN; the rest run
// at their single native level.
func (c *sqlConn) BeginTx(ctx context.Context, level IsolationLevel) error {
	if _, err := c.conn.ExecContext(ctx, "BEGIN"); err != nil {
		return classifyExecError(c.engineID, ctx, err)
	}
	if c.opts.IsolationStatements && level != "" {
		stmt := fmt.Sprintf("SET TRANSACTION ISOLATION LEVEL %s", level)
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			c.conn.ExecContext(ctx, "ROLLBACK")
			return classifyExecError(c.engineID, ctx, err)
		}
	}
	return nil
}

// Commit makes the transaction durable.
func (c *sqlConn) Commit(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return classifyExecError(c.engineID, ctx, err)
	}
	return nil
}

// Rollback discards the transaction.
func (c *sqlConn) Rollback(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return classifyExecError(c.engineID, ctx, err)
	}
	return nil
}

// Savepoint establishes a named rollback point.
func (c *sqlConn) Savepoint(ctx context.Context, name string) error {
	if !ValidSavepointName(name) {
		return sberrors.NewQueryFailed(c.engineID, fmt.Errorf("invalid savepoint name %q", name))
	}
	if _, err := c.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return classifyExecError(c.engineID, ctx, err)
	}
	return nil
}

// RollbackToSavepoint rewinds to a named savepoint.
func (c *sqlConn) RollbackToSavepoint(ctx context.Context, name string) error {
	if !ValidSavepointName(name) {
		return sberrors.NewQueryFailed(c.engineID, fmt.Errorf("invalid savepoint name %q", name))
	}
	if _, err := c.conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return classifyExecError(c.engineID, ctx, err)
	}
	return nil
}

// ReleaseSavepoint removes a savepoint without rolling back data.
func (c *sqlConn) ReleaseSavepoint(ctx context.Context, name string) error {
	if !ValidSavepointName(name) {
		return sberrors.NewQueryFailed(c.engineID, fmt.Errorf("invalid savepoint name %q", name))
	}
	if _, err := c.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return classifyExecError(c.engineID, ctx, err)
	}
	return nil
}
