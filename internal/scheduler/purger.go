package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KAR2812/CaaS/internal/metrics"
	"github.com/KAR2812/CaaS/internal/repository"
	"github.com/robfig/cron/v3"
)

// Purger enforces job retention: completed jobs are kept for a short window
// capped at a maximum count, failed and cancelled jobs longer for audit.
// The sweep runs on a cron schedule ("@every 1h" by default).
type Purger struct {
	repo   repository.JobRepository
	logger *slog.Logger

	completedRetention time.Duration
	completedKeep      int
	failedRetention    time.Duration

	cron *cron.Cron
}

func NewPurger(
	repo repository.JobRepository,
	logger *slog.Logger,
	completedRetention time.Duration,
	completedKeep int,
	failedRetention time.Duration,
) *Purger {
	return &Purger{
		repo:               repo,
		logger:             logger.With("component", "purger"),
		completedRetention: completedRetention,
		completedKeep:      completedKeep,
		failedRetention:    failedRetention,
	}
}

// Start schedules the sweep and blocks until ctx is cancelled. The schedule
// accepts both standard cron expressions and the @every form.
func (p *Purger) Start(ctx context.Context, schedule string) error {
	p.cron = cron.New()
	_, err := p.cron.AddFunc(schedule, func() { p.sweep(ctx) })
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}

	p.cron.Start()
	p.logger.Info("purger started",
		"schedule", schedule,
		"completed_retention", p.completedRetention,
		"completed_keep", p.completedKeep,
		"failed_retention", p.failedRetention,
	)

	<-ctx.Done()
	<-p.cron.Stop().Done()
	p.logger.Info("purger shut down")
	return nil
}

func (p *Purger) sweep(ctx context.Context) {
	now := time.Now()

	completed, err := p.repo.PurgeCompleted(ctx, now.Add(-p.completedRetention), p.completedKeep)
	if err != nil {
		p.logger.Error("purge completed jobs", "error", err)
	} else if completed > 0 {
		metrics.PurgedJobsTotal.WithLabelValues("completed").Add(float64(completed))
		p.logger.Info("purged completed jobs", "count", completed)
	}

	failed, err := p.repo.PurgeFailed(ctx, now.Add(-p.failedRetention))
	if err != nil {
		p.logger.Error("purge failed jobs", "error", err)
	} else if failed > 0 {
		metrics.PurgedJobsTotal.WithLabelValues("failed").Add(float64(failed))
		p.logger.Info("purged failed jobs", "count", failed)
	}
}
