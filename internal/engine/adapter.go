// Package engine defines the common contract every backend adapter must
// implement. Each adapter translates between the uniform command shape and
// its engine's native protocol.
//
// Per docs/plan.md: "One contract per concern. Callers never special-case
// backend type."
package engine

import (
	"context"

	"github.com/switchboard-data/switchboard/internal/value"
)

// BackendType is the family of an engine backend.
type BackendType string

const (
	BackendRelational BackendType = "relational"
	BackendDocument   BackendType = "document"
	BackendKeyValue   BackendType = "keyvalue"
)

// HealthStatus is the result of a successful health probe.
type HealthStatus struct {
	// Latency is the observed probe round-trip time in milliseconds.
	LatencyMS float64

	// Detail is an optional engine-reported status line.
	Detail string
}

// Conn is one live connection to an engine. A Conn is exclusively owned by
// its holder for the checkout duration and is never shared concurrently.
type Conn interface {
	// Execute runs a command with bound parameters and normalizes the
	// result. For relational engines the command is SQL; document and
	// key-value engines accept a JSON command envelope. Parameter values
	// travel only through the driver's binding API.
	Execute(ctx context.Context, command string, params []value.Value) (*value.QueryResult, error)

	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error

	// Close releases the connection. Idempotent.
	Close() error
}

// Adapter is the uniform contract over one configured backend instance.
// Adapters are stateless beyond their connection handles: no silent
// retries, no hidden fallbacks.
type Adapter interface {
	// ID returns the unique engine id of this instance.
	ID() string

	// Backend returns the engine family.
	Backend() BackendType

	// Dialect returns the placeholder dialect for prepared statements.
	Dialect() Dialect

	// SupportsTransactions reports whether the engine honors the
	// transaction protocol. Engines answering false cause begin() to
	// fail with UnsupportedOperation rather than silently no-op.
	SupportsTransactions() bool

	// SupportsJSON reports whether the engine stores structured JSON.
	SupportsJSON() bool

	// Connect opens a new dedicated connection.
	Connect(ctx context.Context) (Conn, error)

	// HealthCheck probes liveness on its own lightweight path, never
	// through a pooled connection. Must complete within the caller's
	// deadline.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Close releases all resources held by the adapter. Idempotent.
	Close() error
}

// Registry holds the configured adapters keyed by engine id.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Re-registering an id replaces the previous
// adapter without closing it; the caller owns that lifecycle.
func (r *Registry) Register(a Adapter) {
	if _, seen := r.adapters[a.ID()]; !seen {
		r.order = append(r.order, a.ID())
	}
	r.adapters[a.ID()] = a
}

// Get returns an adapter by engine id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered engine ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IsEmpty reports whether no adapters are registered.
func (r *Registry) IsEmpty() bool {
	return len(r.adapters) == 0
}

// CloseAll closes every registered adapter, returning the last error.
func (r *Registry) CloseAll() error {
	var lastErr error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
