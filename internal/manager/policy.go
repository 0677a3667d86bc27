package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/switchboard-data/switchboard/internal/history"
)

// Trigger names the condition a switch policy fires on.
type Trigger string

const (
	// TriggerManual policies fire only through an explicit operator
	// request; the evaluator skips them.
	TriggerManual Trigger = "manual"
	// TriggerPerformanceThreshold fires when the role's active engine
	// crosses a latency or error-rate ceiling.
	TriggerPerformanceThreshold Trigger = "performance_threshold"
	// TriggerLoadThreshold fires when the role's active engine carries
	// too much concurrent work.
	TriggerLoadThreshold Trigger = "load_threshold"
	// TriggerScheduled fires at a fixed time of day.
	TriggerScheduled Trigger = "scheduled"
)

// SwitchPolicy is one standing rule evaluated after every probe sweep.
type SwitchPolicy struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Trigger  Trigger       `mapstructure:"trigger" yaml:"trigger"`
	Role     string        `mapstructure:"role" yaml:"role"`
	Target   string        `mapstructure:"target" yaml:"target"`
	Reason   string        `mapstructure:"reason" yaml:"reason"`
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`

	// Performance trigger ceilings. Zero means not checked.
	MaxAvgLatencyMS float64 `mapstructure:"max_avg_latency_ms" yaml:"max_avg_latency_ms"`
	MaxErrorRate    float64 `mapstructure:"max_error_rate" yaml:"max_error_rate"`

	// Load trigger ceiling. Zero means not checked.
	MaxInFlight int64 `mapstructure:"max_in_flight" yaml:"max_in_flight"`

	// Scheduled trigger time of day, "HH:MM", in the local zone.
	At string `mapstructure:"at" yaml:"at"`
}

func (p SwitchPolicy) cooldown() time.Duration {
	if p.Cooldown <= 0 {
		return 5 * time.Minute
	}
	return p.Cooldown
}

func (p SwitchPolicy) role() string {
	if p.Role == "" {
		return DefaultRole
	}
	return p.Role
}

// SetPolicies replaces the policy table.
func (m *Manager) SetPolicies(policies []SwitchPolicy) {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()
	m.policies = append([]SwitchPolicy(nil), policies...)
}

// Policies returns a copy of the policy table.
func (m *Manager) Policies() []SwitchPolicy {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()
	return append([]SwitchPolicy(nil), m.policies...)
}

// evaluatePolicies checks every standing policy against the current
// fleet and fires matching ones, honoring per-policy cooldowns.
func (m *Manager) evaluatePolicies(now time.Time) {
	m.policyMu.Lock()
	policies := append([]SwitchPolicy(nil), m.policies...)
	prevSweep := m.lastPolicySweep
	m.lastPolicySweep = now
	m.policyMu.Unlock()

	for _, policy := range policies {
		if policy.Trigger == TriggerManual {
			continue
		}
		m.policyMu.Lock()
		last, fired := m.lastFire[policy.Name]
		m.policyMu.Unlock()
		if fired && now.Sub(last) < policy.cooldown() {
			continue
		}

		due, reason := m.policyDue(policy, prevSweep, now)
		if !due {
			continue
		}

		m.policyMu.Lock()
		m.lastFire[policy.Name] = now
		m.policyMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.config.DrainTimeout+10*time.Second)
		err := m.Switch(ctx, policy.role(), policy.Target, reason, history.KindPolicy)
		cancel()
		if err != nil {
			m.warnf("policy %s: switch to %s failed: %v", policy.Name, policy.Target, err)
		}
	}
}

// policyDue reports whether a policy's trigger condition holds now, and
// the human-readable reason to record with the switch. prevSweep is the
// previous evaluation time; a schedule fires when its boundary was
// crossed between the two sweeps, even if no sweep landed in the exact
// minute.
func (m *Manager) policyDue(policy SwitchPolicy, prevSweep, now time.Time) (bool, string) {
	switch policy.Trigger {
	case TriggerScheduled:
		if policy.At == "" || prevSweep.IsZero() {
			return false, ""
		}
		at, err := time.ParseInLocation("15:04", policy.At, now.Location())
		if err != nil {
			return false, ""
		}
		boundary := time.Date(now.Year(), now.Month(), now.Day(),
			at.Hour(), at.Minute(), 0, 0, now.Location())
		if boundary.After(now) {
			boundary = boundary.AddDate(0, 0, -1)
		}
		if !boundary.After(prevSweep) {
			return false, ""
		}
		return true, fmt.Sprintf("policy %s: scheduled at %s", policy.Name, policy.At)

	case TriggerPerformanceThreshold, TriggerLoadThreshold:
		activeID, err := m.Active(policy.role())
		if err != nil || activeID == policy.Target {
			return false, ""
		}
		snap, err := m.Snapshot(activeID)
		if err != nil {
			return false, ""
		}
		if policy.Trigger == TriggerLoadThreshold {
			if policy.MaxInFlight > 0 && snap.InFlight > policy.MaxInFlight {
				return true, fmt.Sprintf("policy %s: %d operations in flight on %s exceeds %d",
					policy.Name, snap.InFlight, activeID, policy.MaxInFlight)
			}
			return false, ""
		}
		if policy.MaxAvgLatencyMS > 0 && snap.AvgLatencyMS > policy.MaxAvgLatencyMS {
			return true, fmt.Sprintf("policy %s: avg latency %.1fms on %s exceeds %.1fms",
				policy.Name, snap.AvgLatencyMS, activeID, policy.MaxAvgLatencyMS)
		}
		if policy.MaxErrorRate > 0 && snap.ErrorRate > policy.MaxErrorRate {
			return true, fmt.Sprintf("policy %s: error rate %.3f on %s exceeds %.3f",
				policy.Name, snap.ErrorRate, activeID, policy.MaxErrorRate)
		}
		return false, ""
	}
	return false, ""
}
