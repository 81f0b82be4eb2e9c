package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "botcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- subscriptions ----

func (s *sqliteStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	now := time.Now()
	meta := marshalMap(sub.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, user_id, username, first_name, active, metadata, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   user_id=excluded.user_id,
		   username=excluded.username,
		   first_name=excluded.first_name,
		   active=excluded.active,
		   metadata=excluded.metadata,
		   updated_at=excluded.updated_at`,
		sub.ChatID, sub.UserID, nullStr(sub.Username), nullStr(sub.FirstName),
		boolInt(sub.Active), meta, now.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) SetSubscriptionActive(ctx context.Context, chatID int64, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = ?, updated_at = ? WHERE chat_id = ?`,
		boolInt(active), time.Now().UnixMilli(), chatID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) GetSubscription(ctx context.Context, chatID int64) (Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, user_id, username, first_name, active, metadata, created_at, updated_at
		 FROM subscriptions WHERE chat_id = ?`, chatID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, activeOnly bool) ([]Subscription, error) {
	q := `SELECT chat_id, user_id, username, first_name, active, metadata, created_at, updated_at
	      FROM subscriptions`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) CountSubscriptions(ctx context.Context) (int, int, error) {
	var total, active int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM subscriptions`).Scan(&total, &active)
	return total, active, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var sub Subscription
	var username, firstName sql.NullString
	var active int
	var meta string
	var createdMS, updatedMS int64
	err := r.Scan(&sub.ChatID, &sub.UserID, &username, &firstName, &active, &meta, &createdMS, &updatedMS)
	if err != nil {
		return Subscription{}, err
	}
	sub.Username = username.String
	sub.FirstName = firstName.String
	sub.Active = active != 0
	sub.Metadata = unmarshalStrMap(meta)
	sub.CreatedAt = time.UnixMilli(createdMS)
	sub.UpdatedAt = time.UnixMilli(updatedMS)
	return sub, nil
}

// ---- allowed users ----

func (s *sqliteStore) CreateAllowedUser(ctx context.Context, u AllowedUser) error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO allowed_users(username, note, created_at) VALUES(?,?,?)`,
		u.Username, nullStr(u.Note), time.Now().UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("allowed user %q: %w", u.Username, ErrDuplicate)
	}
	return err
}

func (s *sqliteStore) DeleteAllowedUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM allowed_users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListAllowedUsers(ctx context.Context) ([]AllowedUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, note, created_at FROM allowed_users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowedUser
	for rows.Next() {
		var u AllowedUser
		var note sql.NullString
		var createdMS int64
		if err := rows.Scan(&u.Username, &note, &createdMS); err != nil {
			return nil, err
		}
		u.Note = note.String
		u.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---- events ----

func (s *sqliteStore) InsertEvent(ctx context.Context, e Event) error {
	if strings.TrimSpace(e.EventType) == "" || strings.TrimSpace(e.Action) == "" {
		return errors.New("event_type and action are required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(event_type, action, chat_id, username, details, created_at)
		 VALUES(?,?,?,?,?,?)`,
		e.EventType, e.Action, nullInt64(e.ChatID), nullStr(e.Username),
		marshalAnyMap(e.Details), e.CreatedAt.UnixMilli(),
	)
	return err
}

func eventWhere(f EventFilter) (string, []any) {
	var conds []string
	var args []any
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.ChatID != 0 {
		conds = append(conds, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *sqliteStore) QueryEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	where, args := eventWhere(f)
	q := `SELECT event_type, action, chat_id, username, details, created_at FROM events` +
		where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var chatID sql.NullInt64
		var username sql.NullString
		var details string
		var createdMS int64
		if err := rows.Scan(&e.EventType, &e.Action, &chatID, &username, &details, &createdMS); err != nil {
			return nil, err
		}
		e.ChatID = chatID.Int64
		e.Username = username.String
		e.Details = unmarshalAnyMap(details)
		e.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	where, args := eventWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&n)
	return n, err
}

func (s *sqliteStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalStrMap(s string) map[string]string {
	m := map[string]string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

func marshalAnyMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalAnyMap(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}
