package audit

import (
	"context"
	"testing"
	"time"

	"botcast/internal/storage"
	logx "botcast/pkg/logx"
)

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	rec := New(cfg, store, logx.Nop())
	rec.shouldPurge = func() bool { return false }
	return rec, store
}

func TestLogAppendsEvent(t *testing.T) {
	rec, store := newTestRecorder(t, Config{Enabled: true})
	ctx := context.Background()

	rec.Log(ctx, TypeCommand, ActionStart, 42, "alice", map[string]any{"k": "v"})

	events, err := store.QueryEvents(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.EventType != TypeCommand || e.Action != ActionStart || e.ChatID != 42 || e.Username != "alice" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Details["k"] != "v" {
		t.Fatalf("details not preserved: %+v", e.Details)
	}
}

func TestLogDisabledIsNoop(t *testing.T) {
	rec, store := newTestRecorder(t, Config{Enabled: false})
	ctx := context.Background()

	rec.Log(ctx, TypeCommand, ActionStart, 1, "alice", nil)

	n, err := store.CountEvents(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 0 {
		t.Fatalf("disabled recorder wrote %d events", n)
	}
}

func TestPurgeOldBoundary(t *testing.T) {
	rec, store := newTestRecorder(t, Config{Enabled: true, RetentionDays: 7})
	ctx := context.Background()

	now := time.Now()
	rec.now = func() time.Time { return now }

	insert := func(age time.Duration) {
		err := store.InsertEvent(ctx, storage.Event{
			EventType: TypeCommand,
			Action:    ActionStart,
			CreatedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}
	insert(8 * 24 * time.Hour) // older than retention: purged
	insert(24 * time.Hour)     // within retention: kept
	insert(0)

	removed, err := rec.PurgeOld(ctx)
	if err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d events, want 1", removed)
	}

	n, err := store.CountEvents(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("%d events left, want 2", n)
	}
}

func TestPurgeExactCutoffRetained(t *testing.T) {
	rec, store := newTestRecorder(t, Config{Enabled: true, RetentionDays: 7})
	ctx := context.Background()

	now := time.Now()
	rec.now = func() time.Time { return now }

	// Exactly at the boundary: strictly-older deletion keeps it.
	err := store.InsertEvent(ctx, storage.Event{
		EventType: TypeCommand,
		Action:    ActionStart,
		CreatedAt: now.AddDate(0, 0, -7),
	})
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	removed, err := rec.PurgeOld(ctx)
	if err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}
	if removed != 0 {
		t.Fatalf("boundary event purged")
	}
}

func TestLogTriggersPurge(t *testing.T) {
	rec, store := newTestRecorder(t, Config{Enabled: true, RetentionDays: 7})
	ctx := context.Background()

	now := time.Now()
	rec.now = func() time.Time { return now }

	err := store.InsertEvent(ctx, storage.Event{
		EventType: TypeCommand,
		Action:    ActionStart,
		CreatedAt: now.Add(-30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	rec.shouldPurge = func() bool { return true }
	rec.Log(ctx, TypeCommand, ActionStop, 1, "alice", nil)

	events, err := store.QueryEvents(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the fresh one", len(events))
	}
	if events[0].Action != ActionStop {
		t.Fatalf("survivor is %q, want the fresh event", events[0].Action)
	}
}

func TestRetentionDefault(t *testing.T) {
	rec := New(Config{Enabled: true}, storage.NewMemory(), logx.Nop())
	if rec.cfg.RetentionDays != 30 {
		t.Fatalf("default retention = %d days, want 30", rec.cfg.RetentionDays)
	}
}
