package health

import (
	"context"
	"errors"
	"testing"

	"github.com/switchboard-data/switchboard/internal/engine"
)

// probeAdapter serves canned probe outcomes in sequence.
type probeAdapter struct {
	id       string
	statuses []engine.HealthStatus
	errs     []error
	calls    int
}

func (a *probeAdapter) ID() string                  { return a.id }
func (a *probeAdapter) Backend() engine.BackendType { return engine.BackendRelational }
func (a *probeAdapter) Dialect() engine.Dialect     { return engine.DialectQuestion }
func (a *probeAdapter) SupportsTransactions() bool  { return true }
func (a *probeAdapter) SupportsJSON() bool          { return false }
func (a *probeAdapter) Connect(ctx context.Context) (engine.Conn, error) {
	return nil, errors.New("probe adapter has no data path")
}
func (a *probeAdapter) HealthCheck(ctx context.Context) (engine.HealthStatus, error) {
	i := a.calls
	if i >= len(a.statuses) {
		i = len(a.statuses) - 1
	}
	a.calls++
	return a.statuses[i], a.errs[i]
}
func (a *probeAdapter) Close() error { return nil }

// recordingSink collects reports and counts sweep completions.
type recordingSink struct {
	reports []Report
	sweeps  int
}

func (s *recordingSink) OnHealthReport(report Report) { s.reports = append(s.reports, report) }
func (s *recordingSink) OnSweepComplete()             { s.sweeps++ }

func newMonitorWith(adapters ...engine.Adapter) (*Monitor, *recordingSink) {
	registry := engine.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	sink := &recordingSink{}
	m := NewMonitor(registry, sink, Config{
		DegradedLatencyMS:      100,
		MaxConsecutiveFailures: 3,
	})
	return m, sink
}

func TestMonitor_HealthyAndDegradedVerdicts(t *testing.T) {
	fast := &probeAdapter{
		id:       "pg-a",
		statuses: []engine.HealthStatus{{LatencyMS: 5}},
		errs:     []error{nil},
	}
	slow := &probeAdapter{
		id:       "pg-b",
		statuses: []engine.HealthStatus{{LatencyMS: 250}},
		errs:     []error{nil},
	}
	m, sink := newMonitorWith(fast, slow)

	m.Sweep(context.Background())

	if len(sink.reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(sink.reports))
	}
	if sink.reports[0].EngineID != "pg-a" || sink.reports[0].Verdict != VerdictHealthy {
		t.Fatalf("report[0] = %+v, want pg-a healthy", sink.reports[0])
	}
	if sink.reports[1].EngineID != "pg-b" || sink.reports[1].Verdict != VerdictDegraded {
		t.Fatalf("report[1] = %+v, want pg-b degraded", sink.reports[1])
	}
	if sink.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", sink.sweeps)
	}
}

func TestMonitor_ConsecutiveFailuresEscalateToFailed(t *testing.T) {
	probeErr := errors.New("connection refused")
	flaky := &probeAdapter{
		id:       "pg-a",
		statuses: []engine.HealthStatus{{}, {}, {}},
		errs:     []error{probeErr, probeErr, probeErr},
	}
	m, sink := newMonitorWith(flaky)

	for i := 0; i < 3; i++ {
		m.Sweep(context.Background())
	}

	wantVerdicts := []Verdict{VerdictFailing, VerdictFailing, VerdictFailed}
	for i, want := range wantVerdicts {
		r := sink.reports[i]
		if r.Verdict != want || r.ConsecutiveFailures != i+1 {
			t.Fatalf("sweep %d: report = %+v, want verdict %s with %d failures", i+1, r, want, i+1)
		}
		if r.Err == nil {
			t.Fatalf("sweep %d: report carries no probe error", i+1)
		}
	}
	if m.Failures("pg-a") != 3 {
		t.Fatalf("Failures = %d, want 3", m.Failures("pg-a"))
	}
}

func TestMonitor_SuccessResetsFailureCounter(t *testing.T) {
	probeErr := errors.New("timeout")
	recovering := &probeAdapter{
		id:       "pg-a",
		statuses: []engine.HealthStatus{{}, {}, {LatencyMS: 3}, {}},
		errs:     []error{probeErr, probeErr, nil, probeErr},
	}
	m, sink := newMonitorWith(recovering)

	for i := 0; i < 4; i++ {
		m.Sweep(context.Background())
	}

	if sink.reports[2].Verdict != VerdictHealthy {
		t.Fatalf("report after recovery = %+v, want healthy", sink.reports[2])
	}
	// The counter restarted: one failure after a success is failing,
	// not failed.
	if sink.reports[3].Verdict != VerdictFailing || sink.reports[3].ConsecutiveFailures != 1 {
		t.Fatalf("report after relapse = %+v, want failing with 1 failure", sink.reports[3])
	}
}

func TestMonitor_StartRunsImmediateSweep(t *testing.T) {
	steady := &probeAdapter{
		id:       "pg-a",
		statuses: []engine.HealthStatus{{LatencyMS: 2}},
		errs:     []error{nil},
	}
	m, sink := newMonitorWith(steady)

	m.Start()
	m.Stop()

	if sink.sweeps < 1 {
		t.Fatal("no sweep ran before Stop")
	}
	if len(sink.reports) < 1 || sink.reports[0].Verdict != VerdictHealthy {
		t.Fatalf("reports = %+v, want at least one healthy report", sink.reports)
	}
}
