// Package schedule drives repeated reconciliation cycles, either on a cron
// expression or a fixed sleep interval (spec §6). An invalid cron
// expression is a Configuration-class error, fatal at startup rather than
// discovered mid-run.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one reconciliation cycle.
type RunFunc func(ctx context.Context) error

// Schedule drives repeated calls to Run.
type Schedule struct {
	Logger *slog.Logger

	// CronExpr, if non-empty, takes precedence over SleepInterval.
	CronExpr      string
	SleepInterval time.Duration

	// RunOnlyOnce short-circuits the loop after a single cycle.
	RunOnlyOnce bool
}

// New validates the schedule's configuration. A non-empty CronExpr that
// fails to parse is returned as an error immediately, before any cycle
// ever runs.
func New(logger *slog.Logger, cronExpr string, sleepInterval time.Duration, runOnlyOnce bool) (*Schedule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cronExpr != "" {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return nil, fmt.Errorf("invalid SYNC_CRON expression %q: %w", cronExpr, err)
		}
	}
	return &Schedule{Logger: logger, CronExpr: cronExpr, SleepInterval: sleepInterval, RunOnlyOnce: runOnlyOnce}, nil
}

// Run invokes fn repeatedly until ctx is cancelled or RunOnlyOnce is set.
// On cron mode, a long-running cycle that overruns its next trigger simply
// delays that trigger; cycles never run concurrently with each other.
func (s *Schedule) Run(ctx context.Context, fn RunFunc) error {
	if err := fn(ctx); err != nil {
		s.Logger.Error("cycle returned an error", "error", err)
	}
	if s.RunOnlyOnce {
		return nil
	}

	if s.CronExpr != "" {
		return s.runCron(ctx, fn)
	}
	return s.runSleep(ctx, fn)
}

func (s *Schedule) runCron(ctx context.Context, fn RunFunc) error {
	schedule, err := cron.ParseStandard(s.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid SYNC_CRON expression %q: %w", s.CronExpr, err)
	}

	next := schedule.Next(time.Now())
	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			s.Logger.Error("cycle returned an error", "error", err)
		}
		next = schedule.Next(time.Now())
	}
}

func (s *Schedule) runSleep(ctx context.Context, fn RunFunc) error {
	ticker := time.NewTicker(s.SleepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.Logger.Error("cycle returned an error", "error", err)
			}
		}
	}
}
