// Package metrics pushes engine snapshots to an external sink with
// at-most-once, never-blocking delivery. A slow or absent consumer drops
// samples rather than slowing the data path.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/switchboard-data/switchboard/internal/history"
)

// EngineSnapshot is one observation of one engine.
type EngineSnapshot struct {
	EngineID            string    `json:"engine_id"`
	Health              string    `json:"health"`
	ActiveConnections   int       `json:"active_connections"`
	IdleConnections     int       `json:"idle_connections"`
	AvgLatencyMS        float64   `json:"avg_latency_ms"`
	ErrorRate           float64   `json:"error_rate"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	At                  time.Time `json:"at"`
}

// Sink receives snapshots and switch events. Implementations must not
// block the caller.
type Sink interface {
	PushEngineSnapshot(snapshot EngineSnapshot)
	PushSwitchEvent(event history.SwitchEvent)
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) PushEngineSnapshot(EngineSnapshot)   {}
func (NoopSink) PushSwitchEvent(history.SwitchEvent) {}

// ChannelSink buffers samples for a consumer goroutine. When the buffer
// is full, samples are dropped and counted.
type ChannelSink struct {
	snapshots chan EngineSnapshot
	switches  chan history.SwitchEvent
	dropped   atomic.Int64
}

// NewChannelSink builds a sink with the given buffer size per stream.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{
		snapshots: make(chan EngineSnapshot, buffer),
		switches:  make(chan history.SwitchEvent, buffer),
	}
}

func (s *ChannelSink) PushEngineSnapshot(snapshot EngineSnapshot) {
	select {
	case s.snapshots <- snapshot:
	default:
		s.dropped.Add(1)
	}
}

func (s *ChannelSink) PushSwitchEvent(event history.SwitchEvent) {
	select {
	case s.switches <- event:
	default:
		s.dropped.Add(1)
	}
}

// Snapshots is the consumer side of the snapshot stream.
func (s *ChannelSink) Snapshots() <-chan EngineSnapshot { return s.snapshots }

// Switches is the consumer side of the switch event stream.
func (s *ChannelSink) Switches() <-chan history.SwitchEvent { return s.switches }

// Dropped reports how many samples were discarded because the consumer
// fell behind.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }
