// Package retention prunes old run directories and stored results on a
// cron schedule, keeping the workspace and result history bounded.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/attest/internal/config"
	"github.com/jkaninda/attest/internal/storage"
	"github.com/jkaninda/attest/internal/workspace"
)

// Janitor removes runs and results older than the configured window.
type Janitor struct {
	workspace *workspace.Workspace
	store     storage.Store // may be nil when persistence is disabled
	maxAge    time.Duration
	schedule  cron.Schedule
	logger    *slog.Logger

	now func() time.Time // test seam
}

// SweepStats reports what one sweep removed.
type SweepStats struct {
	RunDirsRemoved int
	ResultsDeleted int64
}

// New creates a Janitor, or nil when retention is disabled.
func New(cfg *config.RetentionConfig, ws *workspace.Workspace, store storage.Store, logger *slog.Logger) (*Janitor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.CronSchedule())
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", cfg.CronSchedule(), err)
	}

	return &Janitor{
		workspace: ws,
		store:     store,
		maxAge:    cfg.MaxAge(),
		schedule:  schedule,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start runs the janitor loop in a goroutine until the context is
// cancelled. Returns a cancel function.
func (j *Janitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		j.logger.Info("retention janitor started",
			slog.Duration("max_age", j.maxAge))

		for {
			next := j.schedule.Next(j.now())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				j.logger.Info("retention janitor stopped")
				return
			case <-timer.C:
				stats, err := j.Sweep(ctx)
				if err != nil {
					j.logger.Error("retention sweep failed",
						slog.String("error", err.Error()))
					continue
				}
				j.logger.Info("retention sweep completed",
					slog.Int("run_dirs_removed", stats.RunDirsRemoved),
					slog.Int64("results_deleted", stats.ResultsDeleted))
			}
		}
	}()

	return cancel
}

// Sweep removes everything older than the retention window. Runs newer
// than the window are never touched.
func (j *Janitor) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	removed, err := j.workspace.PruneRuns(j.maxAge)
	stats.RunDirsRemoved = removed
	if err != nil {
		return stats, fmt.Errorf("pruning run directories: %w", err)
	}

	if j.store != nil {
		cutoff := j.now().UTC().Add(-j.maxAge)
		deleted, err := j.store.DeleteResultsBefore(ctx, cutoff)
		stats.ResultsDeleted = deleted
		if err != nil {
			return stats, fmt.Errorf("pruning stored results: %w", err)
		}
	}

	return stats, nil
}
