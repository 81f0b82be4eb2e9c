package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (tests, ephemeral runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is a chat's opt-in/opt-out registration for broadcasts.
// At most one row exists per ChatID.
type Subscription struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	Active    bool
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllowedUser is an allowlist entry, used when the allowlist policy is "store".
// Usernames are stored case-sensitively and compared case-insensitively.
type AllowedUser struct {
	Username  string
	Note      string
	CreatedAt time.Time
}

// Event is an append-only audit record. EventType and Action are required.
type Event struct {
	EventType string
	Action    string
	ChatID    int64 // 0 means not set
	Username  string
	Details   map[string]any
	CreatedAt time.Time
}

// EventFilter narrows QueryEvents/CountEvents. Zero values mean "no filter".
type EventFilter struct {
	EventType string
	Action    string
	ChatID    int64
	Since     time.Time
	Limit     int
	Offset    int
}
