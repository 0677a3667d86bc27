package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/switchboard-data/switchboard/internal/access"
	"github.com/switchboard-data/switchboard/internal/audit"
	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/health"
	"github.com/switchboard-data/switchboard/internal/manager"
	"github.com/switchboard-data/switchboard/internal/pool"
	"github.com/switchboard-data/switchboard/internal/security"
	"github.com/switchboard-data/switchboard/internal/txn"
	"github.com/switchboard-data/switchboard/internal/value"
)

// fakeConn echoes the command and bound parameters back as a result row
// so tests can see exactly what reached the engine.
type fakeConn struct{}

func (fakeConn) Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error) {
	row := value.Row{
		Columns: []string{"command", "param_count"},
		Values:  []value.Value{value.String(command), value.Int64(int64(len(params)))},
	}
	return &value.QueryResult{Rows: []value.Row{row}}, nil
}
func (fakeConn) Ping(ctx context.Context) error { return nil }
func (fakeConn) Close() error                   { return nil }

// fakeTxConn adds the transaction protocol over fakeConn.
type fakeTxConn struct{ fakeConn }

func (fakeTxConn) BeginTx(ctx context.Context, level engine.IsolationLevel) error { return nil }
func (fakeTxConn) Commit(ctx context.Context) error                               { return nil }
func (fakeTxConn) Rollback(ctx context.Context) error                             { return nil }
func (fakeTxConn) Savepoint(ctx context.Context, name string) error               { return nil }
func (fakeTxConn) RollbackToSavepoint(ctx context.Context, name string) error     { return nil }
func (fakeTxConn) ReleaseSavepoint(ctx context.Context, name string) error        { return nil }

type fakeAdapter struct {
	id string
}

func (a *fakeAdapter) ID() string                  { return a.id }
func (a *fakeAdapter) Backend() engine.BackendType { return engine.BackendRelational }
func (a *fakeAdapter) Dialect() engine.Dialect     { return engine.DialectQuestion }
func (a *fakeAdapter) SupportsTransactions() bool  { return true }
func (a *fakeAdapter) SupportsJSON() bool          { return false }
func (a *fakeAdapter) Connect(ctx context.Context) (engine.Conn, error) {
	return fakeTxConn{}, nil
}
func (a *fakeAdapter) HealthCheck(ctx context.Context) (engine.HealthStatus, error) {
	return engine.HealthStatus{LatencyMS: 1}, nil
}
func (a *fakeAdapter) Close() error { return nil }

// newTestCore assembles a facade over two fake engines, pg-a active.
func newTestCore(t *testing.T, checker access.Checker, auditor audit.Logger) (*Core, *manager.Manager) {
	t.Helper()
	mgr := manager.New(engine.NewRegistry(), nil, nil, manager.Config{})
	mgr.Warnf = func(format string, args ...interface{}) {}
	for _, id := range []string{"pg-a", "pg-b"} {
		if err := mgr.Register(&fakeAdapter{id: id}, pool.Config{MaxConnections: 4}); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
		mgr.OnHealthReport(health.Report{EngineID: id, Verdict: health.VerdictHealthy, At: time.Now()})
	}
	t.Cleanup(mgr.Close)

	txns := txn.NewManager(mgr, txn.Config{})
	txns.Warnf = func(format string, args ...interface{}) {}
	t.Cleanup(txns.Close)

	c := New(mgr, txns, security.NewGate(auditor), checker, auditor, Config{})
	return c, mgr
}

func TestCore_ExecuteEndToEnd(t *testing.T) {
	c, _ := newTestCore(t, nil, nil)

	resp, err := c.Execute(context.Background(), Request{
		Command:   "SELECT name FROM users WHERE org = ?",
		Params:    []value.Value{value.String("acme")},
		Principal: "analyst",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The empty engine reference resolved through the active pointer.
	if resp.EngineID != "pg-a" {
		t.Fatalf("engine = %s, want pg-a", resp.EngineID)
	}
	if resp.Result.RowCount() != 1 {
		t.Fatalf("rows = %d, want 1", resp.Result.RowCount())
	}
	cmd, _ := resp.Result.Rows[0].Get("command")
	gotCmd, _ := cmd.AsString()
	if gotCmd != "SELECT name FROM users WHERE org = ?" {
		t.Fatalf("command reached engine as %q", gotCmd)
	}
	count, _ := resp.Result.Rows[0].Get("param_count")
	gotParams, _ := count.AsInt64()
	if gotParams != 1 {
		t.Fatalf("param count at engine = %d, want 1", gotParams)
	}
}

func TestCore_ExecuteTargetsNamedEngine(t *testing.T) {
	c, _ := newTestCore(t, nil, nil)

	resp, err := c.Execute(context.Background(), Request{
		EngineID: "pg-b",
		Command:  "SELECT 1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.EngineID != "pg-b" {
		t.Fatalf("engine = %s, want pg-b", resp.EngineID)
	}
}

func TestCore_AccessDenialShortCircuits(t *testing.T) {
	mem := audit.NewMemoryLogger()
	// Deny-by-default: no rules.
	c, _ := newTestCore(t, access.NewStaticChecker(nil), mem)

	_, err := c.Execute(context.Background(), Request{
		Command:   "SELECT 1",
		Principal: "intruder",
	})
	if got := sberrors.CategoryOf(err); got != sberrors.CategoryAccess {
		t.Fatalf("category = %q, want %q", got, sberrors.CategoryAccess)
	}

	events := mem.Events()
	if len(events) != 1 || events[0].Type != audit.EventDataAccess || events[0].Success {
		t.Fatalf("events = %+v, want one failed data-access event", events)
	}
}

func TestCore_SecurityGateRejectsBeforeExecution(t *testing.T) {
	mem := audit.NewMemoryLogger()
	c, _ := newTestCore(t, nil, mem)

	_, err := c.Execute(context.Background(), Request{
		Command: "SELECT * FROM t WHERE x = ? OR 1=1",
		Source:  "10.0.0.9",
	})
	if got := sberrors.CategoryOf(err); got != sberrors.CategorySecurity {
		t.Fatalf("category = %q, want %q", got, sberrors.CategorySecurity)
	}

	// One attack event from the gate, one failed access event from the
	// facade.
	var attacks int
	for _, e := range mem.Events() {
		if e.Type == audit.EventSecurityAttack {
			attacks++
			if e.Source != "10.0.0.9" {
				t.Fatalf("attack source = %q, want 10.0.0.9", e.Source)
			}
		}
	}
	if attacks != 1 {
		t.Fatalf("attack events = %d, want 1", attacks)
	}
}

func TestCore_ParameterCountMismatch(t *testing.T) {
	c, _ := newTestCore(t, nil, nil)

	_, err := c.Execute(context.Background(), Request{
		Command: "SELECT * FROM t WHERE a = ? AND b = ?",
		Params:  []value.Value{value.Int64(1)},
	})
	if err == nil {
		t.Fatal("Execute with one of two parameters succeeded")
	}
	var mismatch *sberrors.ErrParameterMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %T, want *ErrParameterMismatch", err)
	}
	if mismatch.Expected != 2 || mismatch.Got != 1 {
		t.Fatalf("mismatch = %d/%d, want 2/1", mismatch.Expected, mismatch.Got)
	}
}

func TestCore_TransactionalExecution(t *testing.T) {
	c, _ := newTestCore(t, nil, nil)
	ctx := context.Background()

	tx, err := c.Begin(ctx, "analyst", "", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Close()

	if tx.EngineID() != "pg-a" {
		t.Fatalf("transaction pinned to %s, want pg-a", tx.EngineID())
	}

	resp, err := c.Execute(ctx, Request{
		Command:       "UPDATE t SET v = ?",
		Params:        []value.Value{value.Int64(7)},
		TransactionID: tx.ID(),
	})
	if err != nil {
		t.Fatalf("Execute in transaction: %v", err)
	}
	if resp.EngineID != "pg-a" {
		t.Fatalf("engine = %s, want the pinned pg-a", resp.EngineID)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCore_TransactionRejectsForeignEngine(t *testing.T) {
	c, _ := newTestCore(t, nil, nil)
	ctx := context.Background()

	tx, err := c.Begin(ctx, "analyst", "pg-a", engine.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Close()

	_, err = c.Execute(ctx, Request{
		EngineID:      "pg-b",
		Command:       "SELECT 1",
		TransactionID: tx.ID(),
	})
	if err == nil {
		t.Fatal("statement on a foreign engine ran inside the transaction")
	}
}

func TestCore_ExecuteSurvivesActivePointerMove(t *testing.T) {
	c, mgr := newTestCore(t, nil, nil)
	ctx := context.Background()

	if err := mgr.EmergencyFailover("", "test move"); err != nil {
		t.Fatalf("EmergencyFailover: %v", err)
	}

	resp, err := c.Execute(ctx, Request{Command: "SELECT 1"})
	if err != nil {
		t.Fatalf("Execute after failover: %v", err)
	}
	if resp.EngineID != "pg-b" {
		t.Fatalf("engine = %s, want pg-b after failover", resp.EngineID)
	}
}
