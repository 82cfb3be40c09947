// Package scheduler runs the escalation sweep and the retention purge on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
)

// sweepTimeout bounds a single sweep so a hung notifier cannot stall the schedule.
const sweepTimeout = 2 * time.Minute

const purgeTimeout = 5 * time.Minute

type Sweeper interface {
	SweepEscalations(ctx context.Context) ([]string, error)
}

type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (repository.PurgeResult, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	ctx     context.Context
	cancel  context.CancelFunc

	purger    Purger
	retention time.Duration
	now       func() time.Time
}

func New(schedule string, sweeper Sweeper) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    c,
		sweeper: sweeper,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}

	if _, err := c.AddFunc(schedule, s.sweep); err != nil {
		cancel()
		return nil, fmt.Errorf("error scheduling escalation sweep %q: %w", schedule, err)
	}
	return s, nil
}

// ScheduleRetention purges data older than retention on schedule. Call it before Start.
func (s *Scheduler) ScheduleRetention(schedule string, retention time.Duration, p Purger) error {
	if retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", retention)
	}
	s.purger = p
	s.retention = retention
	if _, err := s.cron.AddFunc(schedule, s.purge); err != nil {
		return fmt.Errorf("error scheduling retention purge %q: %w", schedule, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()), "next_run", s.cron.Entries()[0].Next)
}

// Stop cancels a running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	escalated, err := s.sweeper.SweepEscalations(ctx)
	if err != nil {
		slog.Error("scheduled escalation sweep failed", "error", err, "escalated", len(escalated))
		return
	}
	if len(escalated) > 0 {
		slog.Info("scheduled escalation sweep", "escalated", escalated)
	}
}

func (s *Scheduler) purge() {
	ctx, cancel := context.WithTimeout(s.ctx, purgeTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	res, err := s.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		slog.Error("scheduled retention purge failed", "cutoff", cutoff, "error", err)
		return
	}
	slog.Info("scheduled retention purge", "cutoff", cutoff, "alerts", res.Alerts, "assessments", res.Assessments)
}
