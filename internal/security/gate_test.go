package security

import (
	"context"
	"errors"
	"testing"

	"github.com/switchboard-data/switchboard/internal/audit"
	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// rejectedWith asserts that Inspect rejects the template with the named
// pattern and emits exactly one audit event for it.
func rejectedWith(t *testing.T, template string, dialect engine.Dialect, pattern string) {
	t.Helper()

	mem := audit.NewMemoryLogger()
	gate := NewGate(mem)

	err := gate.Inspect(context.Background(), template, dialect, "test")
	if err == nil {
		t.Fatalf("Inspect(%q) = nil, want %s rejection", template, pattern)
	}

	var sv *sberrors.ErrSecurityViolation
	if !errors.As(err, &sv) {
		t.Fatalf("Inspect(%q) error = %T, want *ErrSecurityViolation", template, err)
	}
	if sv.Pattern != pattern {
		t.Fatalf("Inspect(%q) pattern = %q, want %q", template, sv.Pattern, pattern)
	}

	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].Type != audit.EventSecurityAttack || events[0].Pattern != pattern {
		t.Fatalf("audit event = %+v, want security_attack/%s", events[0], pattern)
	}
}

// allowed asserts that Inspect passes the template with no audit noise.
func allowed(t *testing.T, template string, dialect engine.Dialect) {
	t.Helper()

	mem := audit.NewMemoryLogger()
	gate := NewGate(mem)

	if err := gate.Inspect(context.Background(), template, dialect, "test"); err != nil {
		t.Fatalf("Inspect(%q) = %v, want nil", template, err)
	}
	if n := len(mem.Events()); n != 0 {
		t.Fatalf("audit events = %d, want 0", n)
	}
}

func TestGate_UnionSelect(t *testing.T) {
	rejectedWith(t, "SELECT name FROM users WHERE id = ? UNION SELECT password FROM accounts",
		engine.DialectQuestion, "union_select")
	rejectedWith(t, "SELECT a FROM t UNION\nALL\nSELECT b FROM s",
		engine.DialectQuestion, "union_select")
}

func TestGate_Tautology(t *testing.T) {
	rejectedWith(t, "SELECT * FROM t WHERE x = ? OR 1=1",
		engine.DialectQuestion, "tautology")
	rejectedWith(t, "SELECT * FROM t WHERE x = ? OR 'x'='x'",
		engine.DialectQuestion, "tautology")
}

// Identifier self-comparison is a legitimate join shape and must not
// trip the tautology pattern; only literal = literal is suspect.
func TestGate_Tautology_IdentifiersAllowed(t *testing.T) {
	allowed(t, "SELECT * FROM a JOIN b ON a.id = b.id AND a.kind = b.kind",
		engine.DialectQuestion)
	allowed(t, "SELECT * FROM t WHERE x = ? OR status = ?",
		engine.DialectQuestion)
}

func TestGate_TimeDelay(t *testing.T) {
	rejectedWith(t, "SELECT pg_sleep(5)", engine.DialectDollar, "time_delay")
	rejectedWith(t, "SELECT 1 WAITFOR DELAY '0:0:10'", engine.DialectQuestion, "time_delay")
	rejectedWith(t, "SELECT benchmark(1000000, md5(?))", engine.DialectQuestion, "time_delay")
}

func TestGate_FileAccess(t *testing.T) {
	rejectedWith(t, "SELECT load_file('/etc/passwd')", engine.DialectQuestion, "file_access")
	rejectedWith(t, "SELECT * FROM t INTO OUTFILE '/tmp/x'", engine.DialectQuestion, "file_access")
}

func TestGate_StackedStatements(t *testing.T) {
	rejectedWith(t, "SELECT 1; DROP TABLE users",
		engine.DialectQuestion, "stacked_statements")
}

// A semicolon inside a string literal is data, not a statement boundary.
func TestGate_SemicolonInLiteralAllowed(t *testing.T) {
	allowed(t, "SELECT * FROM t WHERE note = 'a; b; c'", engine.DialectQuestion)
	// Trailing terminator is a single statement.
	allowed(t, "SELECT * FROM t WHERE id = ?;", engine.DialectQuestion)
}

// Envelope templates are structural JSON where semicolons carry no SQL
// meaning, so the stacked check does not apply to them.
func TestGate_EnvelopeSkipsStackedCheck(t *testing.T) {
	allowed(t, `{"op":"get","key":"a;b","args":["$1"]}`, engine.DialectEnvelope)
}

func TestGate_CleanTemplatesPass(t *testing.T) {
	allowed(t, "SELECT id, name FROM users WHERE org = $1 AND active = $2",
		engine.DialectDollar)
	allowed(t, "INSERT INTO events (kind, payload) VALUES (?, ?)",
		engine.DialectQuestion)
	allowed(t, "UPDATE accounts SET balance = balance - ? WHERE id = ?",
		engine.DialectQuestion)
}

func TestGate_NilAuditorDefaultsToNoop(t *testing.T) {
	gate := NewGate(nil)
	err := gate.Inspect(context.Background(), "SELECT 1; SELECT 2", engine.DialectQuestion, "test")
	if err == nil {
		t.Fatal("Inspect = nil, want stacked_statements rejection")
	}
}
