package statement

import (
	"context"
	"errors"
	"testing"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"
)

// fakeAdapter is a minimal adapter carrying just an id and a dialect.
type fakeAdapter struct {
	id      string
	dialect engine.Dialect
}

func (a *fakeAdapter) ID() string                  { return a.id }
func (a *fakeAdapter) Backend() engine.BackendType { return engine.BackendRelational }
func (a *fakeAdapter) Dialect() engine.Dialect     { return a.dialect }
func (a *fakeAdapter) SupportsTransactions() bool  { return true }
func (a *fakeAdapter) SupportsJSON() bool          { return false }
func (a *fakeAdapter) Connect(context.Context) (engine.Conn, error) {
	return nil, errors.New("not used")
}
func (a *fakeAdapter) HealthCheck(context.Context) (engine.HealthStatus, error) {
	return engine.HealthStatus{}, nil
}
func (a *fakeAdapter) Close() error { return nil }

// recordingRunner records what reaches the execution path.
type recordingRunner struct {
	calls    int
	lastSQL  string
	lastArgs []value.Value
}

func (r *recordingRunner) Run(_ context.Context, _ string, command string, params []value.Value) (*value.QueryResult, error) {
	r.calls++
	r.lastSQL = command
	r.lastArgs = params
	return &value.QueryResult{}, nil
}

// TestPrepare_CountsPlaceholders proves the statement learns its
// parameter count from the engine's dialect.
func TestPrepare_CountsPlaceholders(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-main", dialect: engine.DialectDollar}

	stmt, err := Prepare(adapter, "SELECT * FROM users WHERE id = $1 AND org = $2", &recordingRunner{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if stmt.ParameterCount() != 2 {
		t.Fatalf("expected 2 parameters, got %d", stmt.ParameterCount())
	}
	if stmt.EngineID() != "pg-main" {
		t.Fatalf("expected engine pg-main, got %s", stmt.EngineID())
	}
}

// TestQuery_ParameterMismatchFailsBeforeExecution proves a wrong
// parameter count is rejected without touching the runner.
func TestQuery_ParameterMismatchFailsBeforeExecution(t *testing.T) {
	adapter := &fakeAdapter{id: "pg-main", dialect: engine.DialectDollar}
	runner := &recordingRunner{}
	stmt, err := Prepare(adapter, "SELECT * FROM users WHERE id = $1", runner)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err = stmt.Query(context.Background(), nil)

	var pm *sberrors.ErrParameterMismatch
	if !errors.As(err, &pm) {
		t.Fatalf("expected ErrParameterMismatch, got %v", err)
	}
	if pm.Expected != 1 || pm.Got != 0 {
		t.Fatalf("expected counts (1,0), got (%d,%d)", pm.Expected, pm.Got)
	}
	if runner.calls != 0 {
		t.Fatalf("runner must not be called on mismatch; got %d calls", runner.calls)
	}
}

// TestExecute_PassesTemplateAndParamsUnchanged proves the template is
// never rewritten: parameters travel beside it, not inside it.
func TestExecute_PassesTemplateAndParamsUnchanged(t *testing.T) {
	adapter := &fakeAdapter{id: "lite", dialect: engine.DialectQuestion}
	runner := &recordingRunner{}
	template := "INSERT INTO notes (title, body) VALUES (?, ?)"
	stmt, err := Prepare(adapter, template, runner)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	params := []value.Value{value.String("a"), value.String("b; DROP TABLE notes")}
	if _, err := stmt.Execute(context.Background(), params); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if runner.lastSQL != template {
		t.Fatalf("template was rewritten: %q", runner.lastSQL)
	}
	if len(runner.lastArgs) != 2 {
		t.Fatalf("expected 2 bound params, got %d", len(runner.lastArgs))
	}
}

// TestPrepare_InvalidEnvelopeFails proves a malformed envelope template
// is rejected at preparation.
func TestPrepare_InvalidEnvelopeFails(t *testing.T) {
	adapter := &fakeAdapter{id: "cache", dialect: engine.DialectEnvelope}
	if _, err := Prepare(adapter, `{"operation":`, &recordingRunner{}); err == nil {
		t.Fatal("expected malformed envelope to fail Prepare")
	}
}
