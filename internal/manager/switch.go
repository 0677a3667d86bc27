package manager

import (
	"context"
	"time"

	sberrors "github.com/switchboard-data/switchboard/internal/errors"
	"github.com/switchboard-data/switchboard/internal/health"
	"github.com/switchboard-data/switchboard/internal/history"
	"github.com/switchboard-data/switchboard/internal/metrics"
)

const drainPollInterval = 25 * time.Millisecond

// Switch gracefully repoints a role to a new engine: validate the
// target, drain the outgoing engine, swap the pointer, then confirm the
// target answers. Every attempt is recorded, failed ones included.
func (m *Manager) Switch(ctx context.Context, role, targetID, reason string, kind history.Kind) error {
	if role == "" {
		role = DefaultRole
	}
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	started := time.Now()
	currentID, err := m.Active(role)
	if err != nil {
		return err
	}
	if currentID == targetID {
		return nil
	}

	target, err := m.record(targetID)
	if err != nil {
		return err
	}
	current, err := m.record(currentID)
	if err != nil {
		return err
	}

	// Refuse a target that is not confirmed healthy. Degraded engines
	// are serving but are not promotion material.
	target.mu.Lock()
	targetState := target.state
	target.mu.Unlock()
	if targetState != StateHealthy {
		err := sberrors.NewTargetNotHealthy(targetID, string(targetState))
		m.recordSwitch(kind, role, currentID, targetID, reason, false, err, started)
		return err
	}

	// Drain: stop admitting work on the outgoing engine, wait for
	// in-flight operations to finish. Open transactions stay pinned to
	// their engine and do not hold up the switch.
	current.mu.Lock()
	previousState := current.state
	current.state = StateSwitching
	current.mu.Unlock()

	drained := m.drain(ctx, current)
	if !drained {
		m.warnf("switch %s -> %s: drain timeout after %s with %d operations in flight, proceeding",
			currentID, targetID, m.config.DrainTimeout, current.inflight.Load())
	}

	// Atomic swap, then confirm the target actually answers from here.
	m.mu.Lock()
	m.active[role] = targetID
	m.mu.Unlock()

	validateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_, verr := target.adapter.HealthCheck(validateCtx)
	cancel()
	if verr != nil {
		// Revert. The old engine resumes service; the target is pulled
		// until an operator recovers it.
		m.mu.Lock()
		m.active[role] = currentID
		m.mu.Unlock()
		current.mu.Lock()
		current.state = previousState
		current.mu.Unlock()
		target.mu.Lock()
		target.state = StateFailed
		target.mu.Unlock()

		swerr := sberrors.NewSwitchValidationFailed(targetID, verr)
		m.recordSwitch(kind, role, currentID, targetID, reason, false, swerr, started)
		return swerr
	}

	current.mu.Lock()
	current.state = previousState
	current.mu.Unlock()

	m.recordSwitch(kind, role, currentID, targetID, reason, true, nil, started)
	return nil
}

// drain waits for the engine's in-flight count to reach zero, bounded by
// DrainTimeout. Returns false on timeout.
func (m *Manager) drain(ctx context.Context, rec *record) bool {
	deadline := time.NewTimer(m.config.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		if rec.inflight.Load() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// EmergencyFailover repoints a role immediately, without drain or
// validation, to the healthy engine with the lowest average latency.
// With no healthy candidate the service fails fast rather than routing
// into a known-bad engine.
func (m *Manager) EmergencyFailover(role, reason string) error {
	if role == "" {
		role = DefaultRole
	}
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	started := time.Now()
	m.mu.RLock()
	currentID := m.active[role]
	m.mu.RUnlock()

	targetID := m.bestSecondary(currentID)
	if targetID == "" {
		err := sberrors.NewServiceUnavailable(role)
		m.recordSwitch(history.KindEmergency, role, currentID, "", reason, false, err, started)
		return err
	}

	m.mu.Lock()
	m.active[role] = targetID
	m.mu.Unlock()

	m.warnf("emergency failover on role %s: %s -> %s (%s)", role, currentID, targetID, reason)
	m.recordSwitch(history.KindEmergency, role, currentID, targetID, reason, true, nil, started)
	return nil
}

// bestSecondary picks the healthy non-active engine with the lowest
// average latency, falling back to registration order on ties.
func (m *Manager) bestSecondary(excludeID string) string {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	best := ""
	bestLatency := 0.0
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		rec, err := m.record(id)
		if err != nil {
			continue
		}
		rec.mu.Lock()
		state, latency := rec.state, rec.avgLatencyMS
		rec.mu.Unlock()
		if state != StateHealthy {
			continue
		}
		if best == "" || latency < bestLatency {
			best = id
			bestLatency = latency
		}
	}
	return best
}

func (m *Manager) recordSwitch(kind history.Kind, role, from, to, reason string, success bool, attemptErr error, started time.Time) {
	event := history.NewSwitchEvent(kind, role, from, to, reason, success, attemptErr, started)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.hist.Record(ctx, event); err != nil {
		m.warnf("recording switch event %s: %v", event.ID, err)
	}
	m.sink.PushSwitchEvent(event)
}

// OnHealthReport applies one probe outcome to the engine state machine.
// Implements health.Sink.
func (m *Manager) OnHealthReport(report health.Report) {
	rec, err := m.record(report.EngineID)
	if err != nil {
		return
	}

	rec.mu.Lock()
	rec.lastProbe = report.At
	rec.consecutiveFailures = report.ConsecutiveFailures
	state := rec.state
	failedNow := false
	switch report.Verdict {
	case health.VerdictHealthy:
		if state != StateSwitching && state != StateFailed {
			rec.state = StateHealthy
		}
	case health.VerdictDegraded:
		if state != StateSwitching && state != StateFailed {
			rec.state = StateDegraded
		}
	case health.VerdictFailing:
		// Below the failure threshold: keep serving, keep counting.
	case health.VerdictFailed:
		if state != StateFailed {
			rec.state = StateFailed
			failedNow = true
		}
	}
	rec.mu.Unlock()

	if !failedNow {
		return
	}
	m.warnf("engine %s marked failed after %d consecutive probe failures: %v",
		report.EngineID, report.ConsecutiveFailures, report.Err)

	// If the dead engine was serving a role, fail over now rather than
	// waiting for an operator.
	m.mu.RLock()
	roles := make([]string, 0, 1)
	for role, id := range m.active {
		if id == report.EngineID {
			roles = append(roles, role)
		}
	}
	m.mu.RUnlock()
	for _, role := range roles {
		if err := m.EmergencyFailover(role, "active engine failed health checks"); err != nil {
			m.warnf("emergency failover for role %s: %v", role, err)
		}
	}
}

// OnSweepComplete evaluates switch policies and exports a metrics
// snapshot per engine. Implements health.Sink.
func (m *Manager) OnSweepComplete() {
	m.evaluatePolicies(time.Now())
	for _, snap := range m.Snapshots() {
		m.sink.PushEngineSnapshot(metrics.EngineSnapshot{
			EngineID:            snap.EngineID,
			Health:              string(snap.State),
			ActiveConnections:   snap.ActiveConnections,
			IdleConnections:     snap.IdleConnections,
			AvgLatencyMS:        snap.AvgLatencyMS,
			ErrorRate:           snap.ErrorRate,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			At:                  time.Now(),
		})
	}
}
