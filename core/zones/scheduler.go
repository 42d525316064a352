package zones

import (
	"context"
	"strings"
	"sync"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/utils"

	"github.com/robfig/cron/v3"
)

const defaultResetSpec = "0 0 * * *"

// Scheduler runs the window-expiry sweep once a day at site midnight.
type Scheduler struct {
	cfg     config.SchedulerConfig
	tracker *Tracker
	loc     *time.Location
	logger  *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(cfg config.SchedulerConfig, tracker *Tracker, loc *time.Location, logger *utils.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{cfg: cfg, tracker: tracker, loc: loc, logger: logger}
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if s == nil || s.tracker == nil || !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	spec := strings.TrimSpace(s.cfg.ZoneResetSpec)
	if spec == "" {
		spec = defaultResetSpec
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc(spec, func() { _ = s.RunOnce(runCtx) }); err != nil {
		cancel()
		if s.logger != nil {
			s.logger.Errorf("zones scheduler: invalid spec %q: %v", spec, err)
		}
		return
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	if s.logger != nil {
		s.logger.Printf("zones scheduler: started spec=%q tz=%s", spec, s.loc)
	}
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	wasRunning := s.running
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	cancel()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s == nil || s.tracker == nil {
		return nil
	}
	changes, err := s.tracker.ExpireWindows(ctx)
	if s.logger != nil {
		if err != nil {
			s.logger.Errorf("zones scheduler: sweep finished with error: %v", err)
		}
		if len(changes) > 0 {
			s.logger.Printf("zones scheduler: reset %d zone(s)", len(changes))
		}
	}
	return err
}
