package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/RepoStats/internal/model"
)

// NewRetention returns a scheduler evicting terminal jobs older than
// cfg.MaxAge from registry, or nil when retention is disabled. The caller
// starts and shuts down the scheduler.
func NewRetention(ctx context.Context, registry *Registry, cfg model.Retention) (gocron.Scheduler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	maxAge, err := model.ParseCueDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parsing retention.max_age: %w", err)
	}
	sweep := func() {
		n := registry.Evict(time.Now().Add(-maxAge))
		if n > 0 {
			slog.InfoContext(ctx, "evicted finished jobs", "count", n, "max_age", maxAge.String())
		}
	}
	return newScheduler(ctx, cfg.Schedule, sweep)
}

func newScheduler(ctx context.Context, cfg model.Schedule, task func()) (gocron.Scheduler, error) {
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		_, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing retention.schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing retention.schedule.duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("retention.schedule.duration must be positive, got %s", d)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
