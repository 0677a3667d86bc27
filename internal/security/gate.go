// Package security provides the pre-execution gate over query templates.
// The gate scans template text (never bound parameter values) for
// attack-indicative token co-occurrences and rejects matches before any
// dispatch to an engine. It is defense in depth on top of parameter
// binding, not a replacement for it.
package security

import (
	"context"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/switchboard-data/switchboard/internal/audit"
	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
)

// Pattern is one attack signature the gate scans for.
type Pattern struct {
	// Name identifies the pattern in rejections and audit events.
	Name string

	// Detail describes what the pattern indicates.
	Detail string

	// Match reports whether the template triggers the pattern.
	Match func(template string) bool
}

// Gate is the query security gate.
type Gate struct {
	patterns []Pattern
	auditor  audit.Logger
}

// NewGate creates a gate with the default pattern set.
func NewGate(auditor audit.Logger) *Gate {
	if auditor == nil {
		auditor = audit.NewNoopLogger()
	}
	return &Gate{patterns: defaultPatterns(), auditor: auditor}
}

// Inspect scans a command template before dispatch. A match yields
// SecurityViolation and emits one audit event; the audit emission is
// best-effort and never blocks or fails the rejection.
func (g *Gate) Inspect(ctx context.Context, template string, dialect engine.Dialect, source string) error {
	// The envelope dialect is structural JSON; SQL signatures do not
	// apply, but stacked-statement and time-delay text can still hide
	// in string fields, so the scan runs on every dialect.
	for _, p := range g.patterns {
		if p.Match(template) {
			g.auditor.LogSecurityAttack(ctx, p.Name, p.Detail, source)
			return sberrors.NewSecurityViolation(p.Name, p.Detail)
		}
	}

	if dialect != engine.DialectEnvelope && isStacked(template) {
		g.auditor.LogSecurityAttack(ctx, "stacked_statements",
			"multiple statements in one template", source)
		return sberrors.NewSecurityViolation("stacked_statements",
			"multiple statements in one template")
	}
	return nil
}

var (
	unionSelect = regexp.MustCompile(`(?is)\bunion\b(\s+all)?\s+select\b`)
	timeDelay   = regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark|waitfor|dbms_lock\.sleep)\s*\(|\bwaitfor\s+delay\b`)
	fileAccess  = regexp.MustCompile(`(?i)\b(load_file|into\s+(out|dump)file)\b`)
	tautologyRE = regexp.MustCompile(`(?i)\b(or|and)\s+([^\s=<>!]+)\s*=\s*([^\s;)]+)`)
)

func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:   "union_select",
			Detail: "UNION with SELECT appended to the template",
			Match:  unionSelect.MatchString,
		},
		{
			Name:   "tautology",
			Detail: "always-true boolean predicate",
			Match:  matchTautology,
		},
		{
			Name:   "time_delay",
			Detail: "time-delay function call",
			Match:  timeDelay.MatchString,
		},
		{
			Name:   "file_access",
			Detail: "file read/write function in query text",
			Match:  fileAccess.MatchString,
		},
	}
}

// matchTautology detects OR/AND predicates comparing a literal to itself,
// e.g. OR 1=1 or OR 'x'='x'. Regular expressions cannot compare capture
// groups, so operand equality is checked in code.
func matchTautology(template string) bool {
	for _, m := range tautologyRE.FindAllStringSubmatch(template, -1) {
		left := normalizeOperand(m[2])
		right := normalizeOperand(m[3])
		if left != "" && left == right {
			return true
		}
	}
	return false
}

// normalizeOperand strips quoting so 1 = '1' and 'x'='x' both compare
// equal. Column references (identifiers) are excluded: a = a in a join
// condition is odd but not an attack signature on its own, so only
// literals count.
func normalizeOperand(op string) string {
	op = strings.TrimSpace(op)
	quoted := false
	for len(op) >= 2 {
		first := op[0]
		if (first == '\'' || first == '"') && op[len(op)-1] == first {
			op = op[1 : len(op)-1]
			quoted = true
			continue
		}
		break
	}
	if !quoted && !isNumeric(op) {
		return ""
	}
	return strings.ToLower(op)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' {
			return false
		}
	}
	return true
}

// isStacked reports whether the template contains more than one SQL
// statement. The statement splitter understands string literals, so a
// semicolon inside quoted text does not count.
func isStacked(template string) bool {
	pieces, err := sqlparser.SplitStatementToPieces(template)
	if err != nil {
		// Unsplittable text falls back to a literal-aware scan.
		return semicolonOutsideLiterals(template)
	}
	nonEmpty := 0
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	return nonEmpty > 1
}

func semicolonOutsideLiterals(sql string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	i := 0
	for i < len(trimmed) {
		c := trimmed[i]
		if c == '\'' || c == '"' {
			quote := c
			i++
			for i < len(trimmed) && trimmed[i] != quote {
				i++
			}
		} else if c == ';' {
			return true
		}
		i++
	}
	return false
}
