package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botcast/internal/audit"
	"botcast/internal/authz"
	"botcast/internal/delivery"
	"botcast/internal/eventbus"
	"botcast/internal/storage"
	kit "botcast/internal/transport"
	logx "botcast/pkg/logx"
)

type nopAdapter struct{}

func (nopAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (nopAdapter) Stop(context.Context) error                     { return nil }
func (nopAdapter) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func newTestServer(t *testing.T, cfg Config, policy authz.PolicyKind) (*Server, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	rec := audit.New(audit.Config{Enabled: true}, store, logx.Nop())
	pipeline := delivery.New(delivery.Config{}, nopAdapter{}, store, rec, nil, logx.Nop())
	srv := New(cfg, store, pipeline, rec, eventbus.New(), policy, logx.Nop())
	srv.startedAt = time.Now()
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthToken(t *testing.T) {
	srv, _ := newTestServer(t, Config{Token: "s3cret"}, authz.PolicyOpen)
	h := srv.routes()

	if w := do(t, h, http.MethodGet, "/api/dashboard", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/dashboard", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/dashboard", "s3cret", ""); w.Code != http.StatusOK {
		t.Fatalf("good token: status = %d, want 200", w.Code)
	}
}

func TestDashboardCounts(t *testing.T) {
	srv, store := newTestServer(t, Config{}, authz.PolicyOpen)
	ctx := context.Background()

	_ = store.UpsertSubscription(ctx, storage.Subscription{ChatID: 1, Active: true})
	_ = store.UpsertSubscription(ctx, storage.Subscription{ChatID: 2, Active: false})

	w := do(t, srv.routes(), http.MethodGet, "/api/dashboard", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp dashboardResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SubscriptionsTotal != 2 || resp.SubscriptionsActive != 1 {
		t.Fatalf("counts = %+v", resp)
	}
}

func TestAllowlistRequiresStorePolicy(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, authz.PolicyStatic)
	h := srv.routes()

	w := do(t, h, http.MethodPost, "/api/allowlist", "", `{"username":"alice"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("create under static policy: status = %d, want 409", w.Code)
	}
	w = do(t, h, http.MethodDelete, "/api/allowlist/alice", "", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("delete under static policy: status = %d, want 409", w.Code)
	}
	// Listing stays readable regardless of policy.
	w = do(t, h, http.MethodGet, "/api/allowlist", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", w.Code)
	}
}

func TestAllowlistCRUD(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, authz.PolicyStore)
	h := srv.routes()

	w := do(t, h, http.MethodPost, "/api/allowlist", "", `{"username":"@alice","note":"ops"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body.String())
	}

	// The @ prefix is stripped, so this is the same username.
	w = do(t, h, http.MethodPost, "/api/allowlist", "", `{"username":"alice"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate: status = %d, want 422", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/allowlist", "", `{"note":"no name"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty username: status = %d, want 422", w.Code)
	}

	w = do(t, h, http.MethodDelete, "/api/allowlist/alice", "", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", w.Code)
	}
	w = do(t, h, http.MethodDelete, "/api/allowlist/alice", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", w.Code)
	}
}

func TestSubscriptionToggleAndDelete(t *testing.T) {
	srv, store := newTestServer(t, Config{}, authz.PolicyOpen)
	h := srv.routes()
	ctx := context.Background()

	_ = store.UpsertSubscription(ctx, storage.Subscription{ChatID: 5, Active: true})

	w := do(t, h, http.MethodPost, "/api/subscriptions/5/toggle", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: status = %d", w.Code)
	}
	var sub subscriptionJSON
	if err := json.Unmarshal(w.Body.Bytes(), &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.Active {
		t.Fatalf("toggle did not deactivate")
	}

	w = do(t, h, http.MethodPost, "/api/subscriptions/999/toggle", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("toggle missing: status = %d, want 404", w.Code)
	}

	w = do(t, h, http.MethodDelete, "/api/subscriptions/5", "", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", w.Code)
	}
	if _, err := store.GetSubscription(ctx, 5); err == nil {
		t.Fatalf("row survived delete")
	}

	w = do(t, h, http.MethodPost, "/api/subscriptions/abc/toggle", "", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad chat id: status = %d, want 400", w.Code)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, store := newTestServer(t, Config{}, authz.PolicyOpen)
	h := srv.routes()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 60; i++ {
		err := store.InsertEvent(ctx, storage.Event{
			EventType: "command",
			Action:    "start",
			ChatID:    int64(i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	var resp struct {
		Events []eventJSON `json:"events"`
		Total  int         `json:"total"`
		Page   int         `json:"page"`
		Pages  int         `json:"pages"`
	}

	w := do(t, h, http.MethodGet, "/api/events", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 60 || resp.Pages != 2 || len(resp.Events) != eventsPerPage {
		t.Fatalf("page 1 = %d events, total %d, pages %d", len(resp.Events), resp.Total, resp.Pages)
	}
	if resp.Events[0].ChatID != 59 {
		t.Fatalf("not newest-first: %+v", resp.Events[0])
	}

	w = do(t, h, http.MethodGet, "/api/events?page=2", "", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 10 || resp.Page != 2 {
		t.Fatalf("page 2 = %d events", len(resp.Events))
	}

	w = do(t, h, http.MethodGet, "/api/events?type=delivery", "", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 0 {
		t.Fatalf("filter leaked %d events", resp.Total)
	}

	if w := do(t, h, http.MethodGet, "/api/events?page=0", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("page=0: status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/events?since=yesterday", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since: status = %d, want 400", w.Code)
	}
}
