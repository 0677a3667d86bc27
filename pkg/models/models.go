// Package models provides shared data models for the switchboard public
// surface: what embedding applications and tooling exchange with the
// core, independent of internal types.
package models

import (
	"time"
)

// ExecuteRequest is the external representation of one command.
type ExecuteRequest struct {
	// EngineID targets a specific engine; empty routes through the
	// primary active pointer.
	EngineID string `json:"engine_id,omitempty" yaml:"engine_id,omitempty"`

	// Command is the statement template with positional placeholders.
	Command string `json:"command" yaml:"command"`

	// Params bind placeholders in order. Scalars only.
	Params []interface{} `json:"params,omitempty" yaml:"params,omitempty"`

	// TimeoutMS bounds execution; zero uses the configured default.
	TimeoutMS int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// TransactionID runs the command inside an open transaction.
	TransactionID string `json:"transaction_id,omitempty" yaml:"transaction_id,omitempty"`

	// Principal identifies the caller for authorization and audit.
	Principal string `json:"principal,omitempty" yaml:"principal,omitempty"`
}

// ExecuteResponse is the external representation of a command result.
type ExecuteResponse struct {
	Engine       string                   `json:"engine"`
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows"`
	RowCount     int                      `json:"row_count"`
	RowsAffected *int64                   `json:"rows_affected,omitempty"`
	LastInsertID *int64                   `json:"last_insert_id,omitempty"`
	Duration     string                   `json:"duration"`
}

// EngineStatus is the external representation of one engine's state.
type EngineStatus struct {
	EngineID            string    `json:"engine_id"`
	BackendType         string    `json:"backend_type"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ActiveConnections   int       `json:"active_connections"`
	IdleConnections     int       `json:"idle_connections"`
	AvgLatencyMS        float64   `json:"avg_latency_ms"`
	ErrorRate           float64   `json:"error_rate"`
	LastProbe           time.Time `json:"last_probe,omitempty"`
	Active              bool      `json:"active"`
}

// SwitchRecord is the external representation of one switch attempt.
type SwitchRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Role       string    `json:"role"`
	FromEngine string    `json:"from_engine"`
	ToEngine   string    `json:"to_engine"`
	Reason     string    `json:"reason"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}
