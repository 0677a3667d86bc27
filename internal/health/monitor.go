// Package health runs the background probe loop over registered engines.
//
// Per docs/plan.md: "Monitoring never competes with traffic." Probes run
// on each adapter's dedicated probe path, never on pooled connections,
// so a saturated pool cannot make a healthy engine look dead.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/switchboard-data/switchboard/internal/engine"
)

// Verdict is the monitor's judgement of one engine after a probe.
type Verdict string

const (
	// VerdictHealthy: the probe succeeded within the latency threshold.
	VerdictHealthy Verdict = "healthy"
	// VerdictDegraded: the probe succeeded but latency crossed the
	// configured threshold.
	VerdictDegraded Verdict = "degraded"
	// VerdictFailing: the probe failed, but fewer than
	// MaxConsecutiveFailures times in a row.
	VerdictFailing Verdict = "failing"
	// VerdictFailed: MaxConsecutiveFailures consecutive probes failed.
	VerdictFailed Verdict = "failed"
)

// Report is one probe outcome delivered to the sink.
type Report struct {
	EngineID            string
	Verdict             Verdict
	LatencyMS           float64
	ConsecutiveFailures int
	Err                 error
	At                  time.Time
}

// Sink receives probe reports. The engine manager implements it.
type Sink interface {
	OnHealthReport(report Report)

	// OnSweepComplete fires after every engine has been probed in a
	// tick. Switch policies are evaluated here.
	OnSweepComplete()
}

// Config tunes the monitor loop.
type Config struct {
	// Interval between probe sweeps.
	Interval time.Duration
	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration
	// DegradedLatencyMS marks a successful probe as degraded when its
	// latency meets or exceeds this many milliseconds.
	DegradedLatencyMS float64
	// MaxConsecutiveFailures before an engine is judged failed.
	MaxConsecutiveFailures int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.DegradedLatencyMS <= 0 {
		c.DegradedLatencyMS = 1000
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	return c
}

// Monitor owns the periodic probe loop and per-engine failure counters.
type Monitor struct {
	registry *engine.Registry
	sink     Sink
	config   Config

	mu       sync.Mutex
	failures map[string]int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor builds a monitor. Call Start to begin probing.
func NewMonitor(registry *engine.Registry, sink Sink, config Config) *Monitor {
	return &Monitor{
		registry: registry,
		sink:     sink,
		config:   config.withDefaults(),
		failures: make(map[string]int),
		stop:     make(chan struct{}),
	}
}

// Start launches the probe loop. The first sweep runs immediately so the
// fleet does not sit in its initial state for a full interval.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Sweep(context.Background())
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep(context.Background())
			}
		}
	}()
}

// Stop halts the probe loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Sweep probes every registered engine once and reports each outcome to
// the sink, then signals sweep completion. Exported so callers can force
// an immediate assessment (doctor command, tests).
func (m *Monitor) Sweep(ctx context.Context) {
	for _, id := range m.registry.IDs() {
		adapter, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		m.sink.OnHealthReport(m.probe(ctx, adapter))
	}
	m.sink.OnSweepComplete()
}

func (m *Monitor) probe(ctx context.Context, adapter engine.Adapter) Report {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	status, err := adapter.HealthCheck(probeCtx)
	report := Report{
		EngineID:  adapter.ID(),
		LatencyMS: status.LatencyMS,
		At:        time.Now(),
		Err:       err,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures[adapter.ID()]++
		report.ConsecutiveFailures = m.failures[adapter.ID()]
		if report.ConsecutiveFailures >= m.config.MaxConsecutiveFailures {
			report.Verdict = VerdictFailed
		} else {
			report.Verdict = VerdictFailing
		}
		return report
	}

	m.failures[adapter.ID()] = 0
	if status.LatencyMS >= m.config.DegradedLatencyMS {
		report.Verdict = VerdictDegraded
	} else {
		report.Verdict = VerdictHealthy
	}
	return report
}

// Failures returns the consecutive failure count for one engine.
func (m *Monitor) Failures(engineID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[engineID]
}
