package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.UpsertSubscription(ctx, Subscription{ChatID: 1, Username: "alice", Active: true}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	first, _ := s.GetSubscription(ctx, 1)

	if err := s.UpsertSubscription(ctx, Subscription{ChatID: 1, Username: "alice2", Active: true}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	second, _ := s.GetSubscription(ctx, 1)

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("upsert rewrote created_at")
	}
	if second.Username != "alice2" {
		t.Fatalf("upsert did not refresh fields: %+v", second)
	}
}

func TestSetSubscriptionActive(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	matched, err := s.SetSubscriptionActive(ctx, 1, false)
	if err != nil {
		t.Fatalf("SetSubscriptionActive: %v", err)
	}
	if matched {
		t.Fatalf("matched a missing row")
	}

	_ = s.UpsertSubscription(ctx, Subscription{ChatID: 1, Active: true})
	matched, err = s.SetSubscriptionActive(ctx, 1, false)
	if err != nil || !matched {
		t.Fatalf("SetSubscriptionActive = (%v, %v), want (true, nil)", matched, err)
	}
	sub, _ := s.GetSubscription(ctx, 1)
	if sub.Active {
		t.Fatalf("row still active")
	}
}

func TestListSubscriptionsActiveFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_ = s.UpsertSubscription(ctx, Subscription{ChatID: 1, Active: true})
	_ = s.UpsertSubscription(ctx, Subscription{ChatID: 2, Active: false})
	_ = s.UpsertSubscription(ctx, Subscription{ChatID: 3, Active: true})

	all, err := s.ListSubscriptions(ctx, false)
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d rows, want 3", len(all))
	}

	active, err := s.ListSubscriptions(ctx, true)
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d rows, want 2", len(active))
	}
	for _, sub := range active {
		if !sub.Active {
			t.Fatalf("inactive row in active listing: %+v", sub)
		}
	}

	total, nActive, err := s.CountSubscriptions(ctx)
	if err != nil || total != 3 || nActive != 2 {
		t.Fatalf("CountSubscriptions = (%d, %d, %v), want (3, 2, nil)", total, nActive, err)
	}
}

func TestAllowedUserDuplicate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.CreateAllowedUser(ctx, AllowedUser{Username: "alice"}); err != nil {
		t.Fatalf("CreateAllowedUser: %v", err)
	}
	err := s.CreateAllowedUser(ctx, AllowedUser{Username: "alice"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate create = %v, want ErrDuplicate", err)
	}

	if err := s.DeleteAllowedUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteAllowedUser: %v", err)
	}
	if err := s.DeleteAllowedUser(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestQueryEventsOrderAndPaging(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := s.InsertEvent(ctx, Event{
			EventType: "command",
			Action:    "start",
			ChatID:    int64(i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	events, err := s.QueryEvents(ctx, EventFilter{Limit: 2})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("page = %d rows, want 2", len(events))
	}
	// Newest first.
	if events[0].ChatID != 4 || events[1].ChatID != 3 {
		t.Fatalf("wrong order: %d, %d", events[0].ChatID, events[1].ChatID)
	}

	events, err = s.QueryEvents(ctx, EventFilter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 1 || events[0].ChatID != 0 {
		t.Fatalf("last page wrong: %+v", events)
	}

	events, err = s.QueryEvents(ctx, EventFilter{Limit: 2, Offset: 10})
	if err != nil || len(events) != 0 {
		t.Fatalf("past-the-end page = (%d rows, %v), want empty", len(events), err)
	}
}

func TestQueryEventsFilters(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	_ = s.InsertEvent(ctx, Event{EventType: "command", Action: "start", ChatID: 1, CreatedAt: now.Add(-2 * time.Hour)})
	_ = s.InsertEvent(ctx, Event{EventType: "command", Action: "stop", ChatID: 1, CreatedAt: now.Add(-time.Hour)})
	_ = s.InsertEvent(ctx, Event{EventType: "delivery", Action: "delivered", ChatID: 2, CreatedAt: now})

	check := func(f EventFilter, want int) {
		t.Helper()
		n, err := s.CountEvents(ctx, f)
		if err != nil {
			t.Fatalf("CountEvents: %v", err)
		}
		if n != want {
			t.Fatalf("CountEvents(%+v) = %d, want %d", f, n, want)
		}
	}
	check(EventFilter{}, 3)
	check(EventFilter{EventType: "command"}, 2)
	check(EventFilter{EventType: "command", Action: "stop"}, 1)
	check(EventFilter{ChatID: 2}, 1)
	check(EventFilter{Since: now.Add(-90 * time.Minute)}, 2)
}

func TestDeleteEventsBeforeIsStrict(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	cutoff := time.Now()

	_ = s.InsertEvent(ctx, Event{EventType: "a", Action: "b", CreatedAt: cutoff.Add(-time.Second)})
	_ = s.InsertEvent(ctx, Event{EventType: "a", Action: "b", CreatedAt: cutoff})
	_ = s.InsertEvent(ctx, Event{EventType: "a", Action: "b", CreatedAt: cutoff.Add(time.Second)})

	removed, err := s.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteEventsBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1 (strictly older only)", removed)
	}
	n, _ := s.CountEvents(ctx, EventFilter{})
	if n != 2 {
		t.Fatalf("%d rows left, want 2", n)
	}
}

func TestInsertEventRequiresTypeAndAction(t *testing.T) {
	s := NewMemory()
	if err := s.InsertEvent(context.Background(), Event{Action: "x"}); err == nil {
		t.Fatalf("missing event_type accepted")
	}
	if err := s.InsertEvent(context.Background(), Event{EventType: "x"}); err == nil {
		t.Fatalf("missing action accepted")
	}
}
