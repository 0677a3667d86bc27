// Package manager owns the engine fleet: per-engine pools, health
// state, the active-pointer routing table, and switch orchestration.
//
// Per docs/plan.md: "Switches are atomic or they didn't happen." The
// active pointer for a role changes in exactly one place, under one
// lock, and readers never observe an intermediate assignment.
package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/switchboard-data/switchboard/internal/engine"
	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/history"
	"github.com/switchboard-data/switchboard/internal/metrics"
	"github.com/switchboard-data/switchboard/internal/pool"
	"github.com/switchboard-data/switchboard/internal/value"
)

// EngineState is the manager's view of one engine's lifecycle.
type EngineState string

const (
	// StateInitializing: registered but not yet confirmed by a probe.
	StateInitializing EngineState = "initializing"
	// StateHealthy: serving traffic normally.
	StateHealthy EngineState = "healthy"
	// StateDegraded: serving traffic but past the latency threshold.
	StateDegraded EngineState = "degraded"
	// StateSwitching: draining; new work is refused.
	StateSwitching EngineState = "switching"
	// StateFailed: removed from service until operator recovery.
	StateFailed EngineState = "failed"
)

// DefaultRole is the logical role used when a request names no engine.
const DefaultRole = "primary"

const latencyAlpha = 0.2

// record is the manager's mutable bookkeeping for one engine.
type record struct {
	adapter engine.Adapter
	pool    *pool.Pool

	mu                  sync.Mutex
	state               EngineState
	consecutiveFailures int
	avgLatencyMS        float64
	errorRate           float64
	lastProbe           time.Time

	inflight atomic.Int64
}

// Snapshot is a read-only copy of one engine's record.
type Snapshot struct {
	EngineID            string             `json:"engine_id"`
	Backend             engine.BackendType `json:"backend_type"`
	State               EngineState        `json:"state"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	ActiveConnections   int                `json:"active_connections"`
	IdleConnections     int                `json:"idle_connections"`
	InFlight            int64              `json:"in_flight"`
	AvgLatencyMS        float64            `json:"avg_latency_ms"`
	ErrorRate           float64            `json:"error_rate"`
	LastProbe           time.Time          `json:"last_probe,omitempty"`
}

// Config tunes the manager.
type Config struct {
	// DrainTimeout bounds how long a graceful switch waits for in-flight
	// work on the outgoing engine.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Manager routes work to engines and orchestrates switches. It
// implements statement.Runner, txn.ConnSource, and health.Sink.
type Manager struct {
	registry *engine.Registry
	config   Config
	hist     history.Repository
	sink     metrics.Sink

	mu      sync.RWMutex
	records map[string]*record
	active  map[string]string // role -> engine id
	order   []string

	policyMu        sync.Mutex
	policies        []SwitchPolicy
	lastFire        map[string]time.Time
	lastPolicySweep time.Time

	// switchMu serializes switch attempts. Probe loops and operators
	// may race to repoint the same role.
	switchMu sync.Mutex

	// Warnf receives operational warnings. Defaults to log.Printf.
	Warnf func(format string, args ...interface{})
}

// New builds a manager over an adapter registry. Pass a
// history.MemoryRepository and metrics.NoopSink when persistence and
// export are not configured.
func New(registry *engine.Registry, hist history.Repository, sink metrics.Sink, config Config) *Manager {
	if hist == nil {
		hist = history.NewMemoryRepository()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Manager{
		registry: registry,
		config:   config.withDefaults(),
		hist:     hist,
		sink:     sink,
		records:  make(map[string]*record),
		active:   make(map[string]string),
		lastFire: make(map[string]time.Time),
		Warnf:    log.Printf,
	}
}

// Register adds an engine to the fleet in the initializing state and
// builds its pool. The first engine registered becomes the active
// engine for DefaultRole.
func (m *Manager) Register(adapter engine.Adapter, poolConfig pool.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.records[adapter.ID()]; dup {
		return fmt.Errorf("engine id %q already registered", adapter.ID())
	}
	m.registry.Register(adapter)
	p := pool.New(adapter, poolConfig)

	m.records[adapter.ID()] = &record{
		adapter: adapter,
		pool:    p,
		state:   StateInitializing,
	}
	m.order = append(m.order, adapter.ID())
	if _, ok := m.active[DefaultRole]; !ok {
		m.active[DefaultRole] = adapter.ID()
	}
	return nil
}

// Active returns the engine currently serving a role.
func (m *Manager) Active(role string) (string, error) {
	if role == "" {
		role = DefaultRole
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[role]
	if !ok {
		return "", sberrors.NewServiceUnavailable(role)
	}
	return id, nil
}

// Resolve maps a request's engine reference to a concrete engine id. An
// empty reference resolves through the DefaultRole active pointer.
func (m *Manager) Resolve(engineID string) (string, error) {
	if engineID != "" {
		m.mu.RLock()
		_, ok := m.records[engineID]
		m.mu.RUnlock()
		if !ok {
			return "", sberrors.NewEngineNotFound(engineID)
		}
		return engineID, nil
	}
	return m.Active(DefaultRole)
}

// Adapter returns the adapter for an engine id.
func (m *Manager) Adapter(engineID string) (engine.Adapter, error) {
	rec, err := m.record(engineID)
	if err != nil {
		return nil, err
	}
	return rec.adapter, nil
}

// Checkout hands out a pooled connection, subject to admission control:
// engines that are switching or failed refuse new work.
func (m *Manager) Checkout(ctx context.Context, engineID string) (*pool.Checked, error) {
	rec, err := m.record(engineID)
	if err != nil {
		return nil, err
	}
	if err := rec.admit(engineID); err != nil {
		return nil, err
	}
	return rec.pool.Checkout(ctx)
}

// Run executes one prepared command against an engine. It implements
// statement.Runner: checkout, execute, release, with the connection
// evicted when the statement timed out mid-flight.
func (m *Manager) Run(ctx context.Context, engineID string, command string, params []value.Value) (*value.QueryResult, error) {
	rec, err := m.record(engineID)
	if err != nil {
		return nil, err
	}
	if err := rec.admit(engineID); err != nil {
		return nil, err
	}

	rec.inflight.Add(1)
	defer rec.inflight.Add(-1)

	checked, err := rec.pool.Checkout(ctx)
	if err != nil {
		rec.observe(0, true)
		return nil, err
	}

	start := time.Now()
	result, err := checked.Conn.Execute(ctx, command, params)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	// A timed-out connection may still be mid-statement on the server;
	// never return it to the pool.
	checked.Release(err != nil && sberrors.IsTimeout(err))
	rec.observe(elapsed, err != nil)
	return result, err
}

// Prewarm opens connections up to an engine's configured pool minimum.
func (m *Manager) Prewarm(ctx context.Context, engineID string) error {
	rec, err := m.record(engineID)
	if err != nil {
		return err
	}
	return rec.pool.Prewarm(ctx)
}

// Snapshot returns a copy of one engine's record.
func (m *Manager) Snapshot(engineID string) (Snapshot, error) {
	rec, err := m.record(engineID)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.snapshot(engineID), nil
}

// Snapshots returns every engine's record in registration order.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		rec, err := m.record(id)
		if err != nil {
			continue
		}
		out = append(out, rec.snapshot(id))
	}
	return out
}

// Recover moves a failed engine back to initializing so the probe loop
// can re-admit it. Operator action; no automatic path leaves failed.
func (m *Manager) Recover(engineID string) error {
	rec, err := m.record(engineID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state != StateFailed {
		return fmt.Errorf("engine %s is %s, not %s: nothing to recover", engineID, rec.state, StateFailed)
	}
	rec.state = StateInitializing
	rec.consecutiveFailures = 0
	return nil
}

// Close stops every pool and closes every adapter.
func (m *Manager) Close() {
	m.mu.Lock()
	records := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	m.mu.Unlock()
	for _, rec := range records {
		rec.pool.Close()
	}
	m.registry.CloseAll()
}

func (m *Manager) record(engineID string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[engineID]
	if !ok {
		return nil, sberrors.NewEngineNotFound(engineID)
	}
	return rec, nil
}

func (m *Manager) warnf(format string, args ...interface{}) {
	if m.Warnf != nil {
		m.Warnf(format, args...)
	}
}

// admit refuses new work on engines that are switching or failed.
// A draining engine is a transient condition, so callers see a
// retryable connection error; a failed engine means the role has no
// serving capacity and callers fail fast as unavailable.
func (r *record) admit(engineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateSwitching:
		return sberrors.NewConnectionError(engineID, "engine is draining for a switch", nil)
	case StateFailed:
		return sberrors.NewServiceUnavailable(engineID)
	default:
		return nil
	}
}

// observe folds one operation into the latency and error EWMAs.
func (r *record) observe(latencyMS float64, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sample := 0.0
	if failed {
		sample = 1.0
	}
	r.errorRate = latencyAlpha*sample + (1-latencyAlpha)*r.errorRate
	if !failed {
		if r.avgLatencyMS == 0 {
			r.avgLatencyMS = latencyMS
		} else {
			r.avgLatencyMS = latencyAlpha*latencyMS + (1-latencyAlpha)*r.avgLatencyMS
		}
	}
}

func (r *record) snapshot(engineID string) Snapshot {
	active, idle := r.pool.Stats()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		EngineID:            engineID,
		Backend:             r.adapter.Backend(),
		State:               r.state,
		ConsecutiveFailures: r.consecutiveFailures,
		ActiveConnections:   active,
		IdleConnections:     idle,
		InFlight:            r.inflight.Load(),
		AvgLatencyMS:        r.avgLatencyMS,
		ErrorRate:           r.errorRate,
		LastProbe:           r.lastProbe,
	}
}
