package repository

import (
	"context"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
)

// JobRepository is the single source of truth for job state. Every state
// transition is an atomically-checked update, so concurrent workers and API
// callers always observe a consistent state machine.
type JobRepository interface {
	// Create inserts a pending job. A live (pending or active) job with the
	// same dedup key makes this fail with domain.ErrDuplicateJob.
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)

	// Cancel is permitted only while the job is still pending; an active or
	// terminal job yields *domain.ErrInvalidJobState with the current state.
	Cancel(ctx context.Context, jobID string) error

	// Counts returns per-state totals for the health endpoint.
	Counts(ctx context.Context) (domain.QueueCounts, error)

	// Claim atomically leases up to limit due jobs (pending, scheduled_at in
	// the past) into the active state. No two callers receive the same job.
	Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error)
	UpdateHeartbeat(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// Outcome reports carry the attempt number the job was claimed with.
	// A report whose attempt number no longer matches the row is a no-op:
	// it came from an overlapping execution that already lost the race.
	Complete(ctx context.Context, jobID string, attemptNum int, result domain.JobResult) error
	Reschedule(ctx context.Context, jobID string, attemptNum int, lastError string, retryAt time.Time) error
	Fail(ctx context.Context, jobID string, attemptNum int, lastError string) error

	// Recovery of jobs whose worker died mid-publish: once the heartbeat goes
	// stale they return to pending (attempts remaining) or fail terminally.
	RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)
	FailStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)

	// Retention. Completed jobs are kept for a short window capped at a
	// maximum count; failed and cancelled jobs are kept longer for audit.
	PurgeCompleted(ctx context.Context, olderThan time.Time, keep int) (int, error)
	PurgeFailed(ctx context.Context, olderThan time.Time) (int, error)
}
