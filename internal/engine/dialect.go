package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dialect is the positional-placeholder syntax of an engine.
type Dialect int

const (
	// DialectQuestion uses ? placeholders (sqlite, duckdb, snowflake,
	// trino, bigquery).
	DialectQuestion Dialect = iota

	// DialectDollar uses $1..$N placeholders (postgres).
	DialectDollar

	// DialectEnvelope is the JSON command envelope used by document and
	// key-value engines. Parameters appear as positional JSON strings
	// "$1".."$N" so substitution does not depend on object key order.
	DialectEnvelope
)

// Placeholder renders the placeholder for 1-based position i.
func (d Dialect) Placeholder(i int) string {
	if d == DialectQuestion {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

// CountParams scans a command template and returns the number of
// positional placeholders it contains. The scan understands string
// literals and comments so that quoted question marks are not counted.
func (d Dialect) CountParams(template string) (int, error) {
	if d == DialectEnvelope {
		return countEnvelopeParams(template)
	}
	return countSQLParams(template, d), nil
}

// countSQLParams walks the SQL text skipping '...' and "..." literals,
// -- line comments, and /* */ block comments.
func countSQLParams(sql string, d Dialect) int {
	count := 0
	maxDollar := 0
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			i++
			for i < len(sql) {
				if sql[i] == quote {
					// doubled quote is an escape
					if i+1 < len(sql) && sql[i+1] == quote {
						i += 2
						continue
					}
					break
				}
				i++
			}
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i++
		case c == '?' && d == DialectQuestion:
			count++
		case c == '$' && d == DialectDollar:
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			if j > i+1 {
				if n, err := strconv.Atoi(sql[i+1 : j]); err == nil && n > maxDollar {
					maxDollar = n
				}
				i = j
				continue
			}
		}
		i++
	}
	if d == DialectDollar {
		// $1 may repeat; the parameter count is the highest ordinal.
		return maxDollar
	}
	return count
}

// countEnvelopeParams parses the JSON envelope and returns the highest
// placeholder ordinal found among "$N" string values.
func countEnvelopeParams(raw string) (int, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		return 0, fmt.Errorf("invalid command envelope: %w", err)
	}
	return maxEnvelopeOrdinal(doc), nil
}

func maxEnvelopeOrdinal(node interface{}) int {
	switch n := node.(type) {
	case string:
		return envelopeOrdinal(n)
	case []interface{}:
		max := 0
		for _, e := range n {
			if o := maxEnvelopeOrdinal(e); o > max {
				max = o
			}
		}
		return max
	case map[string]interface{}:
		max := 0
		for _, e := range n {
			if o := maxEnvelopeOrdinal(e); o > max {
				max = o
			}
		}
		return max
	}
	return 0
}

// envelopeOrdinal returns N for a "$N" placeholder string, 0 otherwise.
func envelopeOrdinal(s string) int {
	if len(s) < 2 || s[0] != '$' {
		return 0
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
