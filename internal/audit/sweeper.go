package audit

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	logx "botcast/pkg/logx"
)

// Sweeper runs Recorder.PurgeOld on a cron schedule. The probabilistic purge
// piggybacked on Log remains the primary cleanup; the sweeper covers
// deployments whose log volume is too low to ever trigger it.
type Sweeper struct {
	mu  sync.Mutex
	c   *cron.Cron
	rec *Recorder
	log logx.Logger
}

func NewSweeper(rec *Recorder, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{rec: rec, log: log}
}

// Start schedules the sweep. spec is a standard 5-field cron expression or a
// descriptor like "@daily".
func (s *Sweeper) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := s.rec.PurgeOld(context.Background())
		if err != nil {
			s.log.Warn("retention sweep failed", logx.Err(err))
			return
		}
		s.log.Info("retention sweep done", logx.Int64("removed", n))
	})
	if err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("retention sweep scheduled", logx.String("spec", spec))
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
