package delivery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"botcast/internal/audit"
	"botcast/internal/eventbus"
	rtsup "botcast/internal/runtime/supervisor"
	"botcast/internal/storage"
	kit "botcast/internal/transport"
	logx "botcast/pkg/logx"
)

// Service implements the async delivery pipeline:
// bounded queue + worker pool + rate limit + retry, and the broadcast/notify
// orchestration on top of it.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	store   storage.Store
	rec     *audit.Recorder
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	queue    chan Item
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, rec *audit.Recorder, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		store:   store,
		rec:     rec,
		bus:     bus,
		log:     log,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent. If stopping, wait for it to finish first.
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Item, s.cfg.QueueSize)
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx, s.log.With(logx.String("comp", "delivery")))
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go("worker", func(c context.Context) {
			s.worker(c, q, idx)
		})
	}

	s.log.Info("pipeline started",
		logx.Int("workers", workers),
		logx.Int("queue_cap", cap(q)),
		logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()

	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("pipeline stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Enqueue hands one work item to the pipeline. It never blocks: a full queue
// returns ErrQueueFull and a stopped pipeline returns ErrStopped.
func (s *Service) Enqueue(item Item) error {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	if q == nil {
		return ErrStopped
	}
	select {
	case q <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLen reports pending work items (best-effort, for the dashboard).
func (s *Service) QueueLen() int {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	return len(q)
}
