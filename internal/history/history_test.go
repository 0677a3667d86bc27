package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewSwitchEvent_StampsIdentityAndDuration(t *testing.T) {
	started := time.Now().Add(-40 * time.Millisecond)

	event := NewSwitchEvent(KindGraceful, "primary", "pg-a", "pg-b",
		"planned maintenance", true, nil, started)

	if event.ID == "" {
		t.Fatal("event has no id")
	}
	if event.DurationMS <= 0 {
		t.Fatalf("duration = %f, want > 0", event.DurationMS)
	}
	if event.Error != "" {
		t.Fatalf("error = %q on a successful event, want empty", event.Error)
	}
	if event.CompletedAt.Before(event.StartedAt) {
		t.Fatal("completed before started")
	}
}

func TestNewSwitchEvent_CapturesAttemptError(t *testing.T) {
	event := NewSwitchEvent(KindEmergency, "primary", "pg-a", "",
		"active engine failed", false, errors.New("no healthy secondary"), time.Now())

	if event.Success {
		t.Fatal("event marked successful")
	}
	if event.Error != "no healthy secondary" {
		t.Fatalf("error = %q", event.Error)
	}
}

func TestMemoryRepository_RecentIsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, target := range []string{"pg-b", "pg-c", "pg-d"} {
		event := NewSwitchEvent(KindGraceful, "primary", "pg-a", target, "r", true, nil, time.Now())
		if err := repo.Record(ctx, event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	events, err := repo.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].ToEngine != "pg-d" || events[1].ToEngine != "pg-c" {
		t.Fatalf("order = %s, %s, want pg-d, pg-c", events[0].ToEngine, events[1].ToEngine)
	}

	// A zero or oversized limit returns everything.
	all, _ := repo.Recent(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("len with limit 0 = %d, want 3", len(all))
	}
}
