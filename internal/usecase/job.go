package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/KAR2812/CaaS/internal/repository"
)

type JobUsecase struct {
	repo        repository.JobRepository
	attempts    repository.AttemptRepository
	maxAttempts int
	now         func() time.Time
}

func NewJobUsecase(repo repository.JobRepository, attempts repository.AttemptRepository, maxAttempts int) *JobUsecase {
	return &JobUsecase{
		repo:        repo,
		attempts:    attempts,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

type ScheduleJobInput struct {
	ContentID   string
	Platform    domain.Platform
	ScheduledAt time.Time
	UserID      string
	OrgID       string
	AccessToken *string
	ContentText *string
}

// ScheduleJob enqueues a publication job. The dedup key is derived from
// (content_id, scheduled_at), so resubmitting the same content for the same
// instant is rejected with domain.ErrDuplicateJob while the first job is
// live. A scheduled_at in the past is fine: the job is immediately eligible.
func (u *JobUsecase) ScheduleJob(ctx context.Context, input ScheduleJobInput) (*domain.Job, error) {
	job := &domain.Job{
		DedupKey:    domain.DedupKey(input.ContentID, input.ScheduledAt),
		ContentID:   input.ContentID,
		Platform:    input.Platform,
		UserID:      input.UserID,
		OrgID:       input.OrgID,
		AccessToken: input.AccessToken,
		ContentText: input.ContentText,
		Status:      domain.StatusPending,
		ScheduledAt: input.ScheduledAt,
		MaxAttempts: u.maxAttempts,
	}

	created, err := u.repo.Create(ctx, job)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			return nil, err
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	return created, nil
}

// JobView is the status-query projection of a job.
type JobView struct {
	JobID       string
	Status      string
	Progress    int
	Job         *domain.Job
	CreatedAt   time.Time
	ProcessedOn *time.Time
	FinishedOn  *time.Time
	ReturnValue *domain.JobResult
}

func (u *JobUsecase) GetStatus(ctx context.Context, jobID string) (*JobView, error) {
	job, err := u.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	view := &JobView{
		JobID:       job.ID,
		Status:      u.apiStatus(job),
		Progress:    job.Progress,
		Job:         job,
		CreatedAt:   job.CreatedAt,
		ProcessedOn: job.ProcessedAt,
		FinishedOn:  job.FinishedAt,
	}

	if job.Status == domain.StatusCompleted || job.Status == domain.StatusFailed {
		result := &domain.JobResult{
			Success:     job.Status == domain.StatusCompleted,
			PublishedAt: job.PublishedAt,
		}
		if job.PlatformPostID != nil {
			result.PlatformPostID = *job.PlatformPostID
		}
		if job.LastError != nil {
			result.Error = *job.LastError
		}
		view.ReturnValue = result
	}

	return view, nil
}

// apiStatus maps the stored state to the externally reported one. A pending
// job whose scheduled time has not yet elapsed is "delayed"; once due it is
// "waiting" for a worker.
func (u *JobUsecase) apiStatus(job *domain.Job) string {
	switch job.Status {
	case domain.StatusPending:
		if job.ScheduledAt.After(u.now()) {
			return "delayed"
		}
		return "waiting"
	case domain.StatusActive:
		return "active"
	case domain.StatusCompleted:
		return "completed"
	case domain.StatusFailed:
		return "failed"
	case domain.StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Cancel removes a job from future leasing. Only jobs that have not been
// claimed yet can be cancelled; an in-flight or finished publish cannot be
// undone, which surfaces as *domain.ErrInvalidJobState.
func (u *JobUsecase) Cancel(ctx context.Context, jobID string) error {
	return u.repo.Cancel(ctx, jobID)
}

func (u *JobUsecase) ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error) {
	// Confirm the job exists so unknown IDs yield 404, not an empty list.
	if _, err := u.repo.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	attempts, err := u.attempts.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

func (u *JobUsecase) Health(ctx context.Context) (domain.QueueCounts, error) {
	return u.repo.Counts(ctx)
}
