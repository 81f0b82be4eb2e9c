// Package admin exposes the operator HTTP API: dashboard counters, allowlist
// management, subscription management, and the audit event browser.
//
// The server binds to loopback by default and requires a bearer token when one
// is configured. It is optional; the daemon runs fine without it.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"botcast/internal/audit"
	"botcast/internal/authz"
	"botcast/internal/delivery"
	"botcast/internal/eventbus"
	"botcast/internal/storage"
	logx "botcast/pkg/logx"
)

type Config struct {
	Addr  string
	Token string
}

// Server is the admin API. Construct with New, then Start/Stop.
type Server struct {
	mu sync.Mutex

	cfg      Config
	store    storage.Store
	pipeline *delivery.Service
	rec      *audit.Recorder
	bus      eventbus.Bus
	policy   authz.PolicyKind
	log      logx.Logger

	srv      *http.Server
	unsub    func()
	stopDone chan struct{}

	// Process-lifetime delivery counters, fed from the event bus.
	delivered atomic.Int64
	bounced   atomic.Int64
	failed    atomic.Int64

	startedAt time.Time
}

func New(cfg Config, store storage.Store, pipeline *delivery.Service, rec *audit.Recorder, bus eventbus.Bus, policy authz.PolicyKind, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
		rec:      rec,
		bus:      bus,
		policy:   policy,
		log:      log,
	}
}

// Start binds the listener and serves in the background. Idempotent.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.startedAt = time.Now()
	s.watchBus()

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv

	go func() {
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			s.log.Error("admin server exited", logx.Err(serr))
		}
	}()

	s.log.Info("admin server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	unsub := s.unsub
	s.srv = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("admin server stopped")
}

// watchBus tallies delivery outcomes for the dashboard.
func (s *Server) watchBus() {
	if s.bus == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	go func() {
		for sig := range ch {
			switch sig.Name {
			case eventbus.SignalDelivered:
				s.delivered.Add(1)
			case eventbus.SignalBounced:
				s.bounced.Add(1)
			case eventbus.SignalFailed:
				s.failed.Add(1)
			}
		}
	}()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.auth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)

		r.Get("/allowlist", s.handleAllowlistList)
		r.Post("/allowlist", s.handleAllowlistCreate)
		r.Delete("/allowlist/{username}", s.handleAllowlistDelete)

		r.Get("/subscriptions", s.handleSubscriptionsList)
		r.Post("/subscriptions/{chatID}/toggle", s.handleSubscriptionToggle)
		r.Delete("/subscriptions/{chatID}", s.handleSubscriptionDelete)

		r.Get("/events", s.handleEventsList)
	})
	return r
}

// auth enforces the bearer token when one is configured.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
