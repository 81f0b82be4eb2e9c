package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"botcast/internal/authz"
	"botcast/internal/storage"
)

const eventsPerPage = 50

type dashboardResponse struct {
	SubscriptionsTotal  int   `json:"subscriptions_total"`
	SubscriptionsActive int   `json:"subscriptions_active"`
	EventsTotal         int   `json:"events_total"`
	QueueLen            int   `json:"queue_len"`
	Delivered           int64 `json:"delivered"`
	Bounced             int64 `json:"bounced"`
	Failed              int64 `json:"failed"`
	UptimeSeconds       int64 `json:"uptime_seconds"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	total, active, err := s.store.CountSubscriptions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.rec.Count(r.Context(), storage.EventFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		SubscriptionsTotal:  total,
		SubscriptionsActive: active,
		EventsTotal:         events,
		QueueLen:            s.pipeline.QueueLen(),
		Delivered:           s.delivered.Load(),
		Bounced:             s.bounced.Load(),
		Failed:              s.failed.Load(),
		UptimeSeconds:       int64(time.Since(s.startedAt).Seconds()),
	})
}

type allowedUserJSON struct {
	Username  string    `json:"username"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// requireStorePolicy rejects allowlist mutations unless the store-backed
// policy is in effect: editing rows that no policy reads would only mislead.
func (s *Server) requireStorePolicy(w http.ResponseWriter) bool {
	if s.policy != authz.PolicyStore {
		writeError(w, http.StatusConflict, "allowlist is not store-managed under the current policy")
		return false
	}
	return true
}

func (s *Server) handleAllowlistList(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListAllowedUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]allowedUserJSON, 0, len(users))
	for _, u := range users {
		out = append(out, allowedUserJSON{Username: u.Username, Note: u.Note, CreatedAt: u.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed_users": out})
}

func (s *Server) handleAllowlistCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorePolicy(w) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Note     string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(strings.TrimPrefix(req.Username, "@"))
	if req.Username == "" {
		writeError(w, http.StatusUnprocessableEntity, "username is required")
		return
	}
	u := storage.AllowedUser{Username: req.Username, Note: req.Note, CreatedAt: time.Now()}
	if err := s.store.CreateAllowedUser(r.Context(), u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusUnprocessableEntity, "username already allowed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, allowedUserJSON{Username: u.Username, Note: u.Note, CreatedAt: u.CreatedAt})
}

func (s *Server) handleAllowlistDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorePolicy(w) {
		return
	}
	username := chi.URLParam(r, "username")
	if err := s.store.DeleteAllowedUser(r.Context(), username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "username not allowed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscriptionJSON struct {
	ChatID    int64             `json:"chat_id"`
	UserID    int64             `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	FirstName string            `json:"first_name,omitempty"`
	Active    bool              `json:"active"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toSubscriptionJSON(s storage.Subscription) subscriptionJSON {
	return subscriptionJSON{
		ChatID:    s.ChatID,
		UserID:    s.UserID,
		Username:  s.Username,
		FirstName: s.FirstName,
		Active:    s.Active,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (s *Server) handleSubscriptionsList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	subs, err := s.store.ListSubscriptions(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]subscriptionJSON, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionJSON(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

func chatIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	return id, err == nil
}

func (s *Server) handleSubscriptionToggle(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	sub, err := s.store.GetSubscription(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such subscription")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.store.SetSubscriptionActive(r.Context(), chatID, !sub.Active); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sub, err = s.store.GetSubscription(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionJSON(sub))
}

func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	if err := s.store.DeleteSubscription(r.Context(), chatID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such subscription")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventJSON struct {
	EventType string         `json:"event_type"`
	Action    string         `json:"action"`
	ChatID    int64          `json:"chat_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// handleEventsList serves the audit browser: newest first, fixed page size.
// Filters: type, action, chat_id, since (RFC 3339), page (1-based).
func (s *Server) handleEventsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := storage.EventFilter{
		EventType: q.Get("type"),
		Action:    q.Get("action"),
	}
	if raw := q.Get("chat_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chat_id")
			return
		}
		f.ChatID = id
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: want RFC 3339")
			return
		}
		f.Since = t
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}

	total, err := s.rec.Count(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	f.Limit = eventsPerPage
	f.Offset = (page - 1) * eventsPerPage
	events, err := s.rec.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON{
			EventType: e.EventType,
			Action:    e.Action,
			ChatID:    e.ChatID,
			Username:  e.Username,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		})
	}

	pages := (total + eventsPerPage - 1) / eventsPerPage
	if pages < 1 {
		pages = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"total":  total,
		"page":   page,
		"pages":  pages,
	})
}
