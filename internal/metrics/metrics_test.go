package metrics

import (
	"testing"
	"time"

	"github.com/switchboard-data/switchboard/internal/history"
)

func TestChannelSink_DeliversToConsumer(t *testing.T) {
	sink := NewChannelSink(4)

	sink.PushEngineSnapshot(EngineSnapshot{EngineID: "pg-a", Health: "healthy", At: time.Now()})
	sink.PushSwitchEvent(history.NewSwitchEvent(
		history.KindGraceful, "primary", "pg-a", "pg-b", "r", true, nil, time.Now()))

	select {
	case snap := <-sink.Snapshots():
		if snap.EngineID != "pg-a" {
			t.Fatalf("snapshot engine = %s, want pg-a", snap.EngineID)
		}
	default:
		t.Fatal("snapshot not delivered")
	}
	select {
	case event := <-sink.Switches():
		if event.ToEngine != "pg-b" {
			t.Fatalf("event target = %s, want pg-b", event.ToEngine)
		}
	default:
		t.Fatal("switch event not delivered")
	}
	if sink.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", sink.Dropped())
	}
}

func TestChannelSink_DropsWhenConsumerFallsBehind(t *testing.T) {
	sink := NewChannelSink(2)

	for i := 0; i < 5; i++ {
		sink.PushEngineSnapshot(EngineSnapshot{EngineID: "pg-a"})
	}

	// Two buffered, three dropped; the push path never blocked.
	if sink.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", sink.Dropped())
	}
	if len(sink.Snapshots()) != 2 {
		t.Fatalf("buffered = %d, want 2", len(sink.Snapshots()))
	}
}

func TestNoopSink_Discards(t *testing.T) {
	var sink NoopSink
	sink.PushEngineSnapshot(EngineSnapshot{EngineID: "pg-a"})
	sink.PushSwitchEvent(history.SwitchEvent{})
}
