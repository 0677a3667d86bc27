// Package core is the request facade: one entry point that takes an
// inbound command and walks it through authorization, engine
// resolution, the security gate, preparation, and execution.
//
// Per docs/plan.md: "One contract per concern." Core owns only the
// ordering; each concern lives in its own package.
package core

import (
	"context"
	"time"

	"github.com/switchboard-data/switchboard/internal/access"
	"github.com/switchboard-data/switchboard/internal/audit"
	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/manager"
	"github.com/switchboard-data/switchboard/internal/security"
	"github.com/switchboard-data/switchboard/internal/statement"
	"github.com/switchboard-data/switchboard/internal/txn"
	"github.com/switchboard-data/switchboard/internal/value"
)

// Request is one inbound command.
type Request struct {
	// EngineID targets a specific engine. Empty routes through the
	// primary active pointer.
	EngineID string
	// Command is the statement template, with positional placeholders.
	Command string
	// Params bind the placeholders in order.
	Params []value.Value
	// TimeoutMS bounds execution. Zero uses the configured default.
	TimeoutMS int
	// TransactionID runs the command inside an open transaction on its
	// pinned connection.
	TransactionID string
	// Principal identifies the caller for authorization and audit.
	Principal string
	// Source is recorded in security audit events (client address,
	// session id).
	Source string
}

// Response is the outcome of one executed request.
type Response struct {
	EngineID string
	Result   *value.QueryResult
}

// Config tunes the facade.
type Config struct {
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration
	// Retry governs re-execution of retryable failures outside
	// transactions.
	Retry engine.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = engine.DefaultRetryConfig()
	}
	return c
}

// Core executes requests.
type Core struct {
	manager *manager.Manager
	txns    *txn.Manager
	gate    *security.Gate
	checker access.Checker
	auditor audit.Logger
	config  Config
}

// New wires the facade. Nil checker and auditor default to AllowAll and
// Noop.
func New(mgr *manager.Manager, txns *txn.Manager, gate *security.Gate, checker access.Checker, auditor audit.Logger, config Config) *Core {
	if checker == nil {
		checker = access.AllowAll{}
	}
	if auditor == nil {
		auditor = audit.NewNoopLogger()
	}
	return &Core{
		manager: mgr,
		txns:    txns,
		gate:    gate,
		checker: checker,
		auditor: auditor,
		config:  config.withDefaults(),
	}
}

// Execute runs one request end to end. Ordering is fixed: authorization
// first (a denial costs nothing but a lookup), then engine resolution,
// then the security gate on the raw template, then parameter validation,
// then execution under the request timeout.
func (c *Core) Execute(ctx context.Context, req Request) (*Response, error) {
	resource := req.EngineID
	if resource == "" {
		resource = manager.DefaultRole
	}
	if err := c.checker.Check(ctx, req.Principal, resource, "execute"); err != nil {
		c.auditor.LogDataAccess(ctx, req.Principal, resource, "execute", false)
		return nil, err
	}

	engineID, err := c.manager.Resolve(req.EngineID)
	if err != nil {
		return nil, err
	}
	adapter, err := c.manager.Adapter(engineID)
	if err != nil {
		return nil, err
	}

	if err := c.gate.Inspect(ctx, req.Command, adapter.Dialect(), req.Source); err != nil {
		c.auditor.LogDataAccess(ctx, req.Principal, engineID, "execute", false)
		return nil, err
	}

	stmt, err := statement.Prepare(adapter, req.Command, c.runner(req))
	if err != nil {
		return nil, err
	}

	timeout := c.config.DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.run(execCtx, stmt, req)
	c.auditor.LogDataAccess(ctx, req.Principal, engineID, "execute", err == nil)
	if err != nil {
		return nil, err
	}
	return &Response{EngineID: engineID, Result: result}, nil
}

// Begin opens a transaction for a principal, resolving the engine
// reference through the active pointer when empty. The transaction stays
// pinned to the resolved engine even if the active pointer moves later.
func (c *Core) Begin(ctx context.Context, principal, engineRef string, level engine.IsolationLevel) (*txn.Transaction, error) {
	resource := engineRef
	if resource == "" {
		resource = manager.DefaultRole
	}
	if err := c.checker.Check(ctx, principal, resource, "transaction"); err != nil {
		return nil, err
	}
	engineID, err := c.manager.Resolve(engineRef)
	if err != nil {
		return nil, err
	}
	return c.txns.Begin(ctx, engineID, level)
}

// Transactions exposes the transaction manager for lifecycle calls
// (commit, rollback, savepoints) against transactions opened by Begin.
func (c *Core) Transactions() *txn.Manager { return c.txns }

// run executes the prepared statement, retrying retryable failures when
// the request is not transactional. Inside a transaction a retry would
// silently re-run work on a connection whose state we no longer trust.
func (c *Core) run(ctx context.Context, stmt *statement.PreparedStatement, req Request) (*value.QueryResult, error) {
	if req.TransactionID != "" {
		return stmt.Execute(ctx, req.Params)
	}

	var result *value.QueryResult
	outcome := engine.ExecuteWithRetry(ctx, c.config.Retry, func() error {
		var execErr error
		result, execErr = stmt.Execute(ctx, req.Params)
		return execErr
	})
	if !outcome.Success {
		return nil, outcome.LastError
	}
	return result, nil
}

// runner picks the execution path: the engine manager's pooled path, or
// the pinned connection of an open transaction.
func (c *Core) runner(req Request) statement.Runner {
	if req.TransactionID == "" {
		return c.manager
	}
	return &txRunner{txns: c.txns, txID: req.TransactionID}
}

// txRunner routes statement execution through an open transaction.
type txRunner struct {
	txns *txn.Manager
	txID string
}

func (r *txRunner) Run(ctx context.Context, engineID string, command string, params []value.Value) (*value.QueryResult, error) {
	tx, err := r.txns.Get(r.txID)
	if err != nil {
		return nil, err
	}
	// A transaction is pinned to its engine; a request naming a
	// different engine is a caller bug, not a routing decision.
	if tx.EngineID() != engineID {
		return nil, sberrors.NewQueryFailed(engineID,
			sberrors.NewTransactionAlreadyClosed(r.txID, "open on engine "+tx.EngineID()))
	}
	return tx.Execute(ctx, command, params)
}
