package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "botcast/pkg/logx"
)

// Store is the persistence API used by the engine. All writes are single-row
// upserts/deletes; no multi-table transactions are required.
type Store interface {
	// UpsertSubscription inserts or refreshes the row keyed by sub.ChatID.
	UpsertSubscription(ctx context.Context, sub Subscription) error
	// SetSubscriptionActive flips the active flag with a single-row
	// conditional update scoped by chatID. It reports whether a row matched;
	// a missing row is not an error.
	SetSubscriptionActive(ctx context.Context, chatID int64, active bool) (bool, error)
	GetSubscription(ctx context.Context, chatID int64) (Subscription, error)
	ListSubscriptions(ctx context.Context, activeOnly bool) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, chatID int64) error
	CountSubscriptions(ctx context.Context) (total, active int, err error)

	CreateAllowedUser(ctx context.Context, u AllowedUser) error
	DeleteAllowedUser(ctx context.Context, username string) error
	ListAllowedUsers(ctx context.Context) ([]AllowedUser, error)

	InsertEvent(ctx context.Context, e Event) error
	QueryEvents(ctx context.Context, f EventFilter) ([]Event, error)
	CountEvents(ctx context.Context, f EventFilter) (int, error)
	// DeleteEventsBefore removes events strictly older than cutoff and
	// returns the number of rows deleted.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
