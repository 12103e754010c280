package eventstore

import (
	"context"
	"testing"
	"time"
)

func TestRecorder_FlushesQueuedWritesOnShutdown(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rec.Run(ctx)
		close(done)
	}()

	rec.RecordEvent("%1", "sess-1", "status_change", map[string]any{"new": "waiting"})
	rec.IncrStat("session", "sess-1", "transitions.waiting", 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}

	events, err := store.RecentEvents("%1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (queued write must survive shutdown)", len(events))
	}
	v, err := store.StatValue("session", "sess-1", "transitions.waiting")
	if err != nil {
		t.Fatalf("stat value: %v", err)
	}
	if v != 1 {
		t.Fatalf("stat = %d, want 1", v)
	}
}

func TestCleanup_SweepRemovesExpired(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordEvent("%1", "s", "session_started", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Zero-day retention normalizes to the default 30 days; nothing fresh
	// is swept.
	c := NewCleanup(store, 0, nil)
	c.sweep()
	events, err := store.RecentEvents("", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (fresh event kept)", len(events))
	}
}
