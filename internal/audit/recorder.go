package audit

import (
	"context"
	"math/rand/v2"
	"time"

	"botcast/internal/storage"
	logx "botcast/pkg/logx"
)

// Event type categories.
const (
	TypeCommand     = "command"
	TypeDelivery    = "delivery"
	TypeAuthFailure = "auth_failure"
)

// Actions.
const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionHelp         = "help"
	ActionDelivered    = "delivered"
	ActionBlocked      = "blocked"
	ActionFailed       = "failed"
	ActionBroadcast    = "broadcast"
	ActionNotify       = "notify"
	ActionUnauthorized = "unauthorized"
)

// purgeDenominator is the 1-in-N chance of running a retention purge after a
// successful insert. Expected purge interval is ~N log calls; there is no
// upper bound on the interval.
const purgeDenominator = 100

type Config struct {
	Enabled       bool
	RetentionDays int
}

// Recorder is the append-only audit trail. When disabled it does nothing at
// all, purging included.
type Recorder struct {
	cfg   Config
	store storage.Store
	log   logx.Logger

	// shouldPurge decides, after each successful insert, whether to run a
	// synchronous retention purge. Replaceable in tests for determinism.
	shouldPurge func() bool

	now func() time.Time
}

func New(cfg Config, store storage.Store, log logx.Logger) *Recorder {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		cfg:         cfg,
		store:       store,
		log:         log,
		shouldPurge: func() bool { return rand.IntN(purgeDenominator) == 0 },
		now:         time.Now,
	}
}

func (r *Recorder) Enabled() bool { return r.cfg.Enabled }

// Log appends one audit event. chatID 0 and empty username mean "not set".
// Storage failures are logged and swallowed: auditing must never break the
// operation being audited.
func (r *Recorder) Log(ctx context.Context, eventType, action string, chatID int64, username string, details map[string]any) {
	if !r.cfg.Enabled {
		return
	}
	e := storage.Event{
		EventType: eventType,
		Action:    action,
		ChatID:    chatID,
		Username:  username,
		Details:   details,
		CreatedAt: r.now(),
	}
	if err := r.store.InsertEvent(ctx, e); err != nil {
		r.log.Warn("audit insert failed",
			logx.String("type", eventType),
			logx.String("action", action),
			logx.Err(err))
		return
	}

	if r.shouldPurge() {
		if _, err := r.PurgeOld(ctx); err != nil {
			r.log.Warn("audit purge failed", logx.Err(err))
		}
	}
}

// PurgeOld deletes events strictly older than the retention window. Events at
// or after the boundary are retained.
func (r *Recorder) PurgeOld(ctx context.Context) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -r.cfg.RetentionDays)
	n, err := r.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Debug("audit events purged",
			logx.Int64("removed", n),
			logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// Query returns matching events, newest first.
func (r *Recorder) Query(ctx context.Context, f storage.EventFilter) ([]storage.Event, error) {
	return r.store.QueryEvents(ctx, f)
}

func (r *Recorder) Count(ctx context.Context, f storage.EventFilter) (int, error) {
	return r.store.CountEvents(ctx, f)
}
