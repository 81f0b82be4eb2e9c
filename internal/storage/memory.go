package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is the in-process driver. It mirrors the sqlite driver's semantics
// (ordering, conditional updates, duplicate detection) so tests exercising it
// see the same behavior the daemon does.
type memStore struct {
	mu sync.Mutex

	subs    map[int64]Subscription
	allowed map[string]AllowedUser
	events  []Event
	seq     int64 // insertion order tiebreaker for equal timestamps
	eventID []int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		subs:    map[int64]Subscription{},
		allowed: map[string]AllowedUser{},
	}
}

func (s *memStore) Close() error { return nil }

// ---- subscriptions ----

func (s *memStore) UpsertSubscription(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if prev, ok := s.subs[sub.ChatID]; ok {
		sub.CreatedAt = prev.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Metadata == nil {
		sub.Metadata = map[string]string{}
	}
	s.subs[sub.ChatID] = sub
	return nil
}

func (s *memStore) SetSubscriptionActive(_ context.Context, chatID int64, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[chatID]
	if !ok {
		return false, nil
	}
	sub.Active = active
	sub.UpdatedAt = time.Now()
	s.subs[chatID] = sub
	return true, nil
}

func (s *memStore) GetSubscription(_ context.Context, chatID int64) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[chatID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *memStore) ListSubscriptions(_ context.Context, activeOnly bool) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if activeOnly && !sub.Active {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ChatID > out[j].ChatID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) DeleteSubscription(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, chatID)
	return nil
}

func (s *memStore) CountSubscriptions(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.subs)
	active := 0
	for _, sub := range s.subs {
		if sub.Active {
			active++
		}
	}
	return total, active, nil
}

// ---- allowed users ----

func (s *memStore) CreateAllowedUser(_ context.Context, u AllowedUser) error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allowed[u.Username]; ok {
		return fmt.Errorf("allowed user %q: %w", u.Username, ErrDuplicate)
	}
	u.CreatedAt = time.Now()
	s.allowed[u.Username] = u
	return nil
}

func (s *memStore) DeleteAllowedUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allowed[username]; !ok {
		return ErrNotFound
	}
	delete(s.allowed, username)
	return nil
}

func (s *memStore) ListAllowedUsers(_ context.Context) ([]AllowedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AllowedUser, 0, len(s.allowed))
	for _, u := range s.allowed {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// ---- events ----

func (s *memStore) InsertEvent(_ context.Context, e Event) error {
	if strings.TrimSpace(e.EventType) == "" || strings.TrimSpace(e.Action) == "" {
		return errors.New("event_type and action are required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.events = append(s.events, e)
	s.eventID = append(s.eventID, s.seq)
	return nil
}

func matchEvent(e Event, f EventFilter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ChatID != 0 && e.ChatID != f.ChatID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func (s *memStore) QueryEvents(_ context.Context, f EventFilter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type indexed struct {
		e  Event
		id int64
	}
	var matched []indexed
	for i, e := range s.events {
		if matchEvent(e, f) {
			matched = append(matched, indexed{e: e, id: s.eventID[i]})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].e.CreatedAt.Equal(matched[j].e.CreatedAt) {
			return matched[i].id > matched[j].id
		}
		return matched[i].e.CreatedAt.After(matched[j].e.CreatedAt)
	})

	out := make([]Event, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.e)
	}
	if f.Limit > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
		if len(out) > f.Limit {
			out = out[:f.Limit]
		}
	}
	return out, nil
}

func (s *memStore) CountEvents(_ context.Context, f EventFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.events {
		if matchEvent(e, f) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []Event
	var keptID []int64
	var removed int64
	for i, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
		keptID = append(keptID, s.eventID[i])
	}
	s.events = kept
	s.eventID = keptID
	return removed, nil
}
