package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs a Sweeper on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	sweeper  *Sweeper
	schedule string
	timeout  time.Duration
	log      logrus.FieldLogger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	runs    int
}

// NewScheduler creates a scheduler for schedule, which accepts the standard
// five field syntax and descriptors such as "@every 10m". Each sweep is
// bounded by timeout.
func NewScheduler(sweeper *Sweeper, schedule string, timeout time.Duration, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{sweeper: sweeper, schedule: schedule, timeout: timeout, log: log}
}

// Start parses the schedule and starts the cron runner. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	logger := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("reconcile scheduler started")
	return nil
}

func (s *Scheduler) run(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.log.WithError(err).Warn("reconcile sweep incomplete")
	}
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
}

// Runs is the number of sweeps completed since Start.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Stop stops scheduling new sweeps and waits for a running one to finish,
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("reconcile scheduler stopped")
	return nil
}
