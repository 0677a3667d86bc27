// Package txn provides isolation-level-aware transactions bound to one
// pooled connection.
//
// Per docs/plan.md: "Transactions own their connection. One pooled
// connection, exclusively, from begin to terminal state. An abandoned
// open transaction is rolled back and its connection reclaimed, never
// leaked."
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/pool"
	"github.com/switchboard-data/switchboard/internal/value"
)

// State is the lifecycle state of a transaction.
type State string

const (
	StateOpen       State = "open"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Transaction is one open transaction. It exclusively owns its pooled
// connection until it reaches a terminal state and is never shared across
// concurrent callers.
type Transaction struct {
	id       string
	engineID string
	level    engine.IsolationLevel
	started  time.Time

	mu         sync.Mutex
	state      State
	savepoints []string
	spCounter  int

	checked *pool.Checked
	conn    engine.TxConn
	manager *Manager
}

// ID returns the opaque transaction id.
func (t *Transaction) ID() string { return t.id }

// EngineID returns the engine the transaction runs on. Open transactions
// stay pinned to this engine across an active-pointer switch.
func (t *Transaction) EngineID() string { return t.engineID }

// IsolationLevel returns the transaction's isolation level.
func (t *Transaction) IsolationLevel() engine.IsolationLevel { return t.level }

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Savepoints returns a copy of the savepoint stack, oldest first.
func (t *Transaction) Savepoints() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.savepoints))
	copy(out, t.savepoints)
	return out
}

// Execute runs a statement on the transaction's bound connection.
func (t *Transaction) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return nil, sberrors.NewTransactionAlreadyClosed(t.id, string(t.state))
	}
	res, err := t.conn.Execute(ctx, command, params)
	if err != nil && sberrors.IsTimeout(err) {
		// The connection may hold partial statement state; terminate
		// the transaction and evict.
		t.closeLocked(StateRolledBack, true)
	}
	return res, err
}

// Savepoint establishes a savepoint, generating a name when none is
// given, and pushes it onto the stack.
func (t *Transaction) Savepoint(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return "", sberrors.NewTransactionAlreadyClosed(t.id, string(t.state))
	}
	if name == "" {
		t.spCounter++
		name = fmt.Sprintf("sp_%d", t.spCounter)
	}
	if !engine.ValidSavepointName(name) {
		return "", sberrors.NewQueryFailed(t.engineID, fmt.Errorf("invalid savepoint name %q", name))
	}
	if err := t.conn.Savepoint(ctx, name); err != nil {
		return "", err
	}
	t.savepoints = append(t.savepoints, name)
	return name, nil
}

// RollbackToSavepoint rewinds to a named savepoint. The savepoint stays
// usable; every savepoint established after it is invalidated and popped.
func (t *Transaction) RollbackToSavepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return sberrors.NewTransactionAlreadyClosed(t.id, string(t.state))
	}
	idx := t.findSavepoint(name)
	if idx < 0 {
		return sberrors.NewSavepointNotFound(name)
	}
	if err := t.conn.RollbackToSavepoint(ctx, name); err != nil {
		return err
	}
	t.savepoints = t.savepoints[:idx+1]
	return nil
}

// ReleaseSavepoint removes a named savepoint and everything established
// after it, without rolling back data.
func (t *Transaction) ReleaseSavepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return sberrors.NewTransactionAlreadyClosed(t.id, string(t.state))
	}
	idx := t.findSavepoint(name)
	if idx < 0 {
		return sberrors.NewSavepointNotFound(name)
	}
	if err := t.conn.ReleaseSavepoint(ctx, name); err != nil {
		return err
	}
	t.savepoints = t.savepoints[:idx]
	return nil
}

func (t *Transaction) findSavepoint(name string) int {
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i] == name {
			return i
		}
	}
	return -1
}

// Commit makes the transaction durable and returns the connection to the
// pool. Terminal: a second commit or rollback fails with
// TransactionAlreadyClosed.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return sberrors.NewTransactionAlreadyClosed(t.id, string(t.state))
	}
	err := t.conn.Commit(ctx)
	if err != nil {
		t.closeLocked(StateRolledBack, true)
		return err
	}
	t.closeLocked(StateCommitted, false)
	return nil
}

// Rollback discards the transaction and returns the connection to the
// pool. Terminal.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return sberrors.NewTransactionAlreadyClosed(t.id, string(t.state))
	}
	err := t.conn.Rollback(ctx)
	t.closeLocked(StateRolledBack, err != nil)
	return err
}

// Close is the scoped-resource safety net: defer it on every acquisition.
// A transaction still open when Close runs is rolled back, its connection
// returned to the pool, and a warning logged. Closing a terminal
// transaction is a no-op.
func (t *Transaction) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return
	}
	t.abandonLocked("closed while open")
}

// abandonLocked rolls back an open transaction that was not terminated
// explicitly. Caller holds t.mu.
func (t *Transaction) abandonLocked(why string) {
	age := time.Since(t.started)
	t.manager.warnf("transaction %s on %s %s after %s: issuing automatic rollback",
		t.id, t.engineID, why, age.Round(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.conn.Rollback(ctx)
	t.closeLocked(StateRolledBack, err != nil)
}

// closeLocked transitions to a terminal state and releases the
// connection. Caller holds t.mu.
func (t *Transaction) closeLocked(final State, evict bool) {
	t.state = final
	t.savepoints = nil
	t.checked.Release(evict)
	t.manager.forget(t.id)
}

// Age returns how long the transaction has been open.
func (t *Transaction) Age() time.Duration {
	return time.Since(t.started)
}

func newTransaction(m *Manager, engineID string, level engine.IsolationLevel, checked *pool.Checked, conn engine.TxConn) *Transaction {
	return &Transaction{
		id:       uuid.NewString(),
		engineID: engineID,
		level:    level,
		started:  time.Now(),
		state:    StateOpen,
		checked:  checked,
		conn:     conn,
		manager:  m,
	}
}
