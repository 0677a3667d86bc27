package txn

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/pool"
	"github.com/switchboard-data/switchboard/internal/value"
)

// fakeTxConn records every transaction-protocol call in order.
type fakeTxConn struct {
	calls []string
}

func (c *fakeTxConn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	c.calls = append(c.calls, "EXEC "+command)
	return &value.QueryResult{}, nil
}
func (c *fakeTxConn) Ping(ctx context.Context) error { return nil }
func (c *fakeTxConn) Close() error                   { return nil }
func (c *fakeTxConn) BeginTx(ctx context.Context, level engine.IsolationLevel) error {
	c.calls = append(c.calls, "BEGIN "+string(level))
	return nil
}
func (c *fakeTxConn) Commit(ctx context.Context) error {
	c.calls = append(c.calls, "COMMIT")
	return nil
}
func (c *fakeTxConn) Rollback(ctx context.Context) error {
	c.calls = append(c.calls, "ROLLBACK")
	return nil
}
func (c *fakeTxConn) Savepoint(ctx context.Context, name string) error {
	c.calls = append(c.calls, "SAVEPOINT "+name)
	return nil
}
func (c *fakeTxConn) RollbackToSavepoint(ctx context.Context, name string) error {
	c.calls = append(c.calls, "ROLLBACK TO "+name)
	return nil
}
func (c *fakeTxConn) ReleaseSavepoint(ctx context.Context, name string) error {
	c.calls = append(c.calls, "RELEASE "+name)
	return nil
}

// txAdapter dials fakeTxConns; supportsTx false models key-value engines.
type txAdapter struct {
	id         string
	supportsTx bool
	lastConn   *fakeTxConn
}

func (a *txAdapter) ID() string                  { return a.id }
func (a *txAdapter) Backend() engine.BackendType { return engine.BackendRelational }
func (a *txAdapter) Dialect() engine.Dialect     { return engine.DialectQuestion }
func (a *txAdapter) SupportsTransactions() bool  { return a.supportsTx }
func (a *txAdapter) SupportsJSON() bool          { return false }
func (a *txAdapter) Connect(ctx context.Context) (engine.Conn, error) {
	a.lastConn = &fakeTxConn{}
	return a.lastConn, nil
}
func (a *txAdapter) HealthCheck(ctx context.Context) (engine.HealthStatus, error) {
	return engine.HealthStatus{LatencyMS: 1}, nil
}
func (a *txAdapter) Close() error { return nil }

// fakeSource serves one adapter backed by a real pool, the shape the
// engine manager presents.
type fakeSource struct {
	adapter *txAdapter
	pool    *pool.Pool
}

func newFakeSource(supportsTx bool) *fakeSource {
	a := &txAdapter{id: "pg-a", supportsTx: supportsTx}
	return &fakeSource{adapter: a, pool: pool.New(a, pool.Config{MaxConnections: 4})}
}

func (s *fakeSource) Adapter(engineID string) (engine.Adapter, error) {
	if engineID != s.adapter.id {
		return nil, fmt.Errorf("unknown engine %s", engineID)
	}
	return s.adapter, nil
}

func (s *fakeSource) Checkout(ctx context.Context, engineID string) (*pool.Checked, error) {
	if engineID != s.adapter.id {
		return nil, fmt.Errorf("unknown engine %s", engineID)
	}
	return s.pool.Checkout(ctx)
}

func TestManager_BeginRejectsNonTransactionalEngine(t *testing.T) {
	source := newFakeSource(false)
	defer source.pool.Close()
	m := NewManager(source, Config{})
	defer m.Close()

	_, err := m.Begin(context.Background(), "pg-a", engine.ReadCommitted)
	if err == nil {
		t.Fatal("Begin on a non-transactional engine succeeded")
	}
	if got := sberrors.CategoryOf(err); got != sberrors.CategoryQuery {
		t.Fatalf("category = %q, want %q", got, sberrors.CategoryQuery)
	}
}

func TestTransaction_CommitIsTerminal(t *testing.T) {
	source := newFakeSource(true)
	defer source.pool.Close()
	m := NewManager(source, Config{})
	defer m.Close()

	tx, err := m.Begin(context.Background(), "pg-a", engine.Serializable)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Close()

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != StateCommitted {
		t.Fatalf("state = %s, want %s", tx.State(), StateCommitted)
	}

	// A second terminal call must fail, not re-commit.
	err = tx.Commit(context.Background())
	if got := sberrors.CategoryOf(err); got != sberrors.CategoryTransaction {
		t.Fatalf("second Commit category = %q, want %q", got, sberrors.CategoryTransaction)
	}
	if err := tx.Rollback(context.Background()); err == nil {
		t.Fatal("Rollback after Commit succeeded")
	}
	if m.OpenCount() != 0 {
		t.Fatalf("OpenCount = %d after commit, want 0", m.OpenCount())
	}
}

func TestTransaction_SavepointStack(t *testing.T) {
	source := newFakeSource(true)
	defer source.pool.Close()
	m := NewManager(source, Config{})
	defer m.Close()

	tx, err := m.Begin(context.Background(), "pg-a", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Close()
	ctx := context.Background()

	// Unnamed savepoints get generated names.
	first, err := tx.Savepoint(ctx, "")
	if err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if first != "sp_1" {
		t.Fatalf("generated name = %q, want sp_1", first)
	}
	if _, err := tx.Savepoint(ctx, "checkpoint"); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if _, err := tx.Savepoint(ctx, ""); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if got := tx.Savepoints(); !reflect.DeepEqual(got, []string{"sp_1", "checkpoint", "sp_2"}) {
		t.Fatalf("savepoints = %v", got)
	}

	// Rolling back to a savepoint keeps it and pops everything above.
	if err := tx.RollbackToSavepoint(ctx, "checkpoint"); err != nil {
		t.Fatalf("RollbackToSavepoint: %v", err)
	}
	if got := tx.Savepoints(); !reflect.DeepEqual(got, []string{"sp_1", "checkpoint"}) {
		t.Fatalf("savepoints after rollback-to = %v", got)
	}
	if err := tx.RollbackToSavepoint(ctx, "sp_2"); err == nil {
		t.Fatal("rollback to a popped savepoint succeeded")
	}

	// Releasing removes the savepoint itself.
	if err := tx.ReleaseSavepoint(ctx, "checkpoint"); err != nil {
		t.Fatalf("ReleaseSavepoint: %v", err)
	}
	if got := tx.Savepoints(); !reflect.DeepEqual(got, []string{"sp_1"}) {
		t.Fatalf("savepoints after release = %v", got)
	}
	if err := tx.ReleaseSavepoint(ctx, "missing"); err == nil {
		t.Fatal("release of unknown savepoint succeeded")
	}
}

func TestTransaction_SavepointRejectsUnsafeName(t *testing.T) {
	source := newFakeSource(true)
	defer source.pool.Close()
	m := NewManager(source, Config{})
	defer m.Close()

	tx, err := m.Begin(context.Background(), "pg-a", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Close()

	if _, err := tx.Savepoint(context.Background(), "sp; DROP TABLE t"); err == nil {
		t.Fatal("savepoint with unsafe name succeeded")
	}
	if len(tx.Savepoints()) != 0 {
		t.Fatal("unsafe savepoint name was pushed onto the stack")
	}
}

func TestTransaction_CloseRollsBackOpenTransaction(t *testing.T) {
	source := newFakeSource(true)
	defer source.pool.Close()

	var warnings []string
	m := NewManager(source, Config{})
	m.Warnf = func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	defer m.Close()

	tx, err := m.Begin(context.Background(), "pg-a", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Act: the safety net fires instead of an explicit terminal call.
	tx.Close()

	if tx.State() != StateRolledBack {
		t.Fatalf("state = %s, want %s", tx.State(), StateRolledBack)
	}
	conn := source.adapter.lastConn
	if conn.calls[len(conn.calls)-1] != "ROLLBACK" {
		t.Fatalf("last call = %q, want ROLLBACK", conn.calls[len(conn.calls)-1])
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "automatic rollback") {
		t.Fatalf("warnings = %v, want one automatic rollback warning", warnings)
	}

	// Close after the terminal state is a no-op.
	tx.Close()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d after second Close, want 1", len(warnings))
	}
}

func TestManager_GetAndOpenOn(t *testing.T) {
	source := newFakeSource(true)
	defer source.pool.Close()
	m := NewManager(source, Config{})
	defer m.Close()

	tx, err := m.Begin(context.Background(), "pg-a", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Close()

	got, err := m.Get(tx.ID())
	if err != nil || got != tx {
		t.Fatalf("Get(%s) = %v, %v", tx.ID(), got, err)
	}
	if m.OpenOn("pg-a") != 1 {
		t.Fatalf("OpenOn(pg-a) = %d, want 1", m.OpenOn("pg-a"))
	}
	if m.OpenOn("other") != 0 {
		t.Fatalf("OpenOn(other) = %d, want 0", m.OpenOn("other"))
	}

	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := m.Get(tx.ID()); err == nil {
		t.Fatal("Get after rollback succeeded")
	}
}

func TestManager_JanitorReclaimsAbandonedTransaction(t *testing.T) {
	source := newFakeSource(true)
	defer source.pool.Close()

	m := NewManager(source, Config{
		MaxOpenDuration: 10 * time.Millisecond,
		SweepInterval:   5 * time.Millisecond,
	})
	m.Warnf = func(format string, args ...interface{}) {}
	defer m.Close()

	tx, err := m.Begin(context.Background(), "pg-a", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.OpenCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.OpenCount() != 0 {
		t.Fatal("janitor did not reclaim the abandoned transaction")
	}
	if tx.State() != StateRolledBack {
		t.Fatalf("state = %s, want %s", tx.State(), StateRolledBack)
	}
}
