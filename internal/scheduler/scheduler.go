package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/logger"
)

// Expirer fails tasks that stopped receiving updates
type Expirer interface {
	ExpireStale(cutoff time.Time) int
}

// Pruner deletes old task history
type Pruner interface {
	PruneHistory(ctx context.Context, before time.Time) (tasks int, events int, err error)
}

// Sweeper evicts idle console sessions
type Sweeper interface {
	Sweep(cutoff time.Time) int
}

// Scheduler runs the housekeeping jobs of the console on cron schedules
type Scheduler struct {
	cfg      config.TaskConfig
	tracker  Expirer
	history  Pruner
	sessions Sweeper
	cron     *cron.Cron
	running  bool
	mu       sync.RWMutex
}

// New creates a new scheduler
func New(cfg config.TaskConfig, tracker Expirer, history Pruner, sessions Sweeper) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		tracker:  tracker,
		history:  history,
		sessions: sessions,
		cron:     cron.New(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.register(s.cfg.ReapSchedule, "reap", func() { s.Reap() }); err != nil {
		return err
	}
	if err := s.register(s.cfg.PruneSchedule, "prune", func() {
		if err := s.Prune(context.Background()); err != nil {
			logger.Error("Failed to prune task history: %v", err)
		}
	}); err != nil {
		s.removeAll()
		return err
	}

	s.cron.Start()
	s.running = true

	logger.Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.removeAll()
	s.running = false

	logger.Info("Scheduler stopped")
}

func (s *Scheduler) removeAll() {
	for _, entry := range s.cron.Entries() {
		s.cron.Remove(entry.ID)
	}
}

// register registers a job with cron
func (s *Scheduler) register(spec, name string, job func()) error {
	if spec == "" {
		logger.Debug("No schedule for %s job, skipping", name)
		return nil
	}

	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("failed to add %s job: %w", name, err)
	}

	logger.Info("Registered %s job with cron expression: %s", name, spec)
	return nil
}

// Reap fails stale tasks and evicts idle sessions
func (s *Scheduler) Reap() {
	now := time.Now()

	if s.tracker != nil && s.cfg.StaleAfter > 0 {
		if n := s.tracker.ExpireStale(now.Add(-s.cfg.StaleAfter)); n > 0 {
			logger.Warning("Expired %d stale tasks", n)
		}
	}

	if s.sessions != nil && s.cfg.SessionIdle > 0 {
		if n := s.sessions.Sweep(now.Add(-s.cfg.SessionIdle)); n > 0 {
			logger.Debug("Evicted %d idle sessions", n)
		}
	}
}

// Prune deletes history older than the retention period
func (s *Scheduler) Prune(ctx context.Context) error {
	if s.history == nil || s.cfg.Retention <= 0 {
		return nil
	}

	tasks, events, err := s.history.PruneHistory(ctx, time.Now().Add(-s.cfg.Retention))
	if err != nil {
		return err
	}

	logger.Info("Pruned %d tasks and %d events", tasks, events)
	return nil
}

// RunOnce runs every job immediately
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.Reap()
	return s.Prune(ctx)
}
