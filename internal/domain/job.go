package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("a live job already exists for this content and time")
)

// ErrInvalidJobState is returned when an operation is not permitted in the
// job's current state, e.g. cancelling a job that is already publishing.
type ErrInvalidJobState struct {
	JobID string
	State Status
}

func (e *ErrInvalidJobState) Error() string {
	return fmt.Sprintf("job %s is in state %s", e.JobID, e.State)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further state transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
)

// Job is one scheduled post publication. A job is "ready" when it is still
// pending and its ScheduledAt has elapsed; readiness is derived, not stored.
type Job struct {
	ID       string
	DedupKey string // deterministic: "<content_id>-<scheduled_at unix ms>"

	ContentID   string
	Platform    Platform
	UserID      string
	OrgID       string
	AccessToken *string // platform OAuth token, nil when the app credential applies
	ContentText *string // inline payload; nil means fetch from the backend

	Status      Status
	ScheduledAt time.Time
	Progress    int // 0, 50 after validation, 100 after publish

	AttemptCount int
	MaxAttempts  int

	ClaimedAt   *time.Time
	ClaimedBy   *string // worker ID
	HeartbeatAt *time.Time

	PlatformPostID *string
	PublishedAt    *time.Time
	LastError      *string

	ProcessedAt *time.Time // first time a worker picked the job up
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DedupKey derives the deduplication identity of a scheduling request.
// Submitting the same content for the same instant always maps to the same
// key, which the store enforces as unique among live jobs.
func DedupKey(contentID string, scheduledAt time.Time) string {
	return fmt.Sprintf("%s-%d", contentID, scheduledAt.UnixMilli())
}

// JobResult is the outcome of one publish attempt. Immutable once produced.
type JobResult struct {
	Success        bool
	PlatformPostID string
	Error          string
	PublishedAt    *time.Time
}

// JobAttempt is one row of execution history for a job.
type JobAttempt struct {
	ID             string
	JobID          string
	AttemptNum     int
	WorkerID       string
	StartedAt      time.Time
	CompletedAt    *time.Time
	PlatformPostID *string
	Error          *string
	DurationMS     *int64
}

// QueueCounts are the aggregate per-state totals reported by the health
// endpoint. Waiting and Delayed split pending jobs by whether ScheduledAt
// has elapsed.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Total is the number of jobs still in flight (not yet terminal).
func (c QueueCounts) Total() int64 {
	return c.Waiting + c.Delayed + c.Active
}
