// Package scheduler runs the periodic jobs: expiring stale duel proposals and
// autosaving the snapshot files.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/pvp-ladder/internal/pvp"
)

type DuelSweeper interface {
	SweepDuels(ctx context.Context) ([]pvp.Session, error)
}

type Exporter interface {
	ExportBestEffort(ctx context.Context)
}

type Config struct {
	SweepInterval time.Duration
	// SnapshotInterval of zero disables autosave.
	SnapshotInterval time.Duration
	JobTimeout       time.Duration
}

type Scheduler struct {
	sched  gocron.Scheduler
	logger *zap.Logger
}

// Start registers the jobs and starts the scheduler. snap may be nil.
func Start(cfg Config, duels DuelSweeper, snap Exporter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("duel sweep interval must be greater than 0")
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, logger: logger}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout)
			defer cancel()
			expired, err := duels.SweepDuels(ctx)
			if err != nil {
				logger.Warn("duel_sweep_error", zap.Error(err))
				return
			}
			for _, d := range expired {
				logger.Info("duel_expired",
					zap.String("duel_id", d.ID),
					zap.Int64("challenger_id", d.ChallengerID),
					zap.Int64("opponent_id", d.OpponentID),
				)
			}
		}),
		gocron.WithName("duel_sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule duel sweep: %w", err)
	}

	if snap != nil && cfg.SnapshotInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.SnapshotInterval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout)
				defer cancel()
				snap.ExportBestEffort(ctx)
			}),
			gocron.WithName("snapshot_autosave"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule snapshot autosave: %w", err)
		}
	}

	sched.Start()
	logger.Info("scheduler_start",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("snapshot_interval", cfg.SnapshotInterval),
	)
	return s, nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	var names []string
	for _, j := range s.sched.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	if s == nil {
		return nil
	}
	return s.sched.Shutdown()
}
