// Package statement provides parameter-bound prepared statements.
//
// Per docs/plan.md: "Parameters are data, never text." A prepared
// statement stores an immutable command template and its placeholder
// count; execution validates the bound parameter list length before any
// network call and hands values to the driver's binding API. String
// concatenation into the template is forbidden by contract.
package statement

import (
	"context"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/value"
)

// Runner executes a prepared command against an engine. The dynamic
// engine manager implements it on top of the connection pool.
type Runner interface {
	Run(ctx context.Context, engineID, command string, params []value.Value) (*value.QueryResult, error)
}

// PreparedStatement is an immutable parameter-bound command template.
type PreparedStatement struct {
	engineID   string
	template   string
	paramCount int
	runner     Runner
}

// Prepare scans the template for the engine's placeholder syntax and
// creates the statement. The template must already have passed the
// security gate.
func Prepare(adapter engine.Adapter, template string, runner Runner) (*PreparedStatement, error) {
	count, err := adapter.Dialect().CountParams(template)
	if err != nil {
		return nil, sberrors.NewQueryFailed(adapter.ID(), err)
	}
	return &PreparedStatement{
		engineID:   adapter.ID(),
		template:   template,
		paramCount: count,
		runner:     runner,
	}, nil
}

// SQL returns the command template.
func (s *PreparedStatement) SQL() string { return s.template }

// ParameterCount returns the number of positional placeholders detected
// in the template.
func (s *PreparedStatement) ParameterCount() int { return s.paramCount }

// EngineID returns the engine the statement is bound to.
func (s *PreparedStatement) EngineID() string { return s.engineID }

// Query executes the statement and returns the result rows.
func (s *PreparedStatement) Query(ctx context.Context, params []value.Value) (*value.QueryResult, error) {
	if err := s.checkParams(params); err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, s.engineID, s.template, params)
}

// Execute runs the statement for its side effects. Identical to Query on
// the wire; callers use it for write statements.
func (s *PreparedStatement) Execute(ctx context.Context, params []value.Value) (*value.QueryResult, error) {
	if err := s.checkParams(params); err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, s.engineID, s.template, params)
}

// checkParams fails with ParameterMismatch before any network call.
func (s *PreparedStatement) checkParams(params []value.Value) error {
	if len(params) != s.paramCount {
		return sberrors.NewParameterMismatch(s.paramCount, len(params))
	}
	return nil
}
