package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, dedup_key, content_id, platform, user_id, org_id,
	access_token, content_text, status, scheduled_at, progress,
	attempt_count, max_attempts, claimed_at, claimed_by, heartbeat_at,
	platform_post_id, published_at, last_error, processed_at, finished_at,
	created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (
			dedup_key, content_id, platform, user_id, org_id,
			access_token, content_text, status, scheduled_at, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query,
		job.DedupKey,
		job.ContentID,
		job.Platform,
		job.UserID,
		job.OrgID,
		job.AccessToken,
		job.ContentText,
		job.Status,
		job.ScheduledAt,
		job.MaxAttempts,
	)

	created, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateJob
		}
		return nil, err
	}
	return created, nil
}

func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func (r *JobRepository) Cancel(ctx context.Context, jobID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status      = 'cancelled',
		       finished_at = NOW(),
		       updated_at  = NOW()
		WHERE  id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the job is gone or an in-flight/finished
	// publish cannot be undone. Report which.
	var status domain.Status
	err = r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return &domain.ErrInvalidJobState{JobID: jobID, State: status}
}

func (r *JobRepository) Counts(ctx context.Context) (domain.QueueCounts, error) {
	var c domain.QueueCounts
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_at <= NOW()),
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_at >  NOW()),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM jobs`).Scan(
		&c.Waiting, &c.Delayed, &c.Active, &c.Completed, &c.Failed, &c.Cancelled)
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("queue counts: %w", err)
	}
	return c, nil
}

func (r *JobRepository) Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error) {
	// FOR UPDATE SKIP LOCKED prevents double-leasing across workers. Only
	// jobs whose scheduled time has elapsed are eligible, so a worker slot
	// never waits out a residual delay.
	query := `
		UPDATE jobs
		SET    status       = 'active',
		       claimed_at   = NOW(),
		       claimed_by   = $1,
		       heartbeat_at = NOW(),
		       progress     = 0,
		       processed_at = COALESCE(processed_at, NOW()),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status       = 'pending'
			  AND  scheduled_at <= NOW()
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *JobRepository) UpdateHeartbeat(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, jobID)
	return err
}

func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs SET progress = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, jobID, progress)
	return err
}

// The attempt_count guard on the three outcome writes below makes a report
// carrying a stale attempt number touch zero rows; duplicate reports from
// an overlapping execution (e.g. one the reaper already reclaimed) can never
// clobber a newer transition.

func (r *JobRepository) Complete(ctx context.Context, jobID string, attemptNum int, result domain.JobResult) error {
	var postID *string
	if result.PlatformPostID != "" {
		postID = &result.PlatformPostID
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status           = 'completed',
		       attempt_count    = $2,
		       progress         = 100,
		       platform_post_id = $3,
		       published_at     = $4,
		       last_error       = NULL,
		       finished_at      = NOW(),
		       updated_at       = NOW()
		WHERE  id = $1 AND status = 'active' AND attempt_count = $2 - 1`,
		jobID, attemptNum, postID, result.PublishedAt)
	return err
}

func (r *JobRepository) Reschedule(ctx context.Context, jobID string, attemptNum int, lastError string, retryAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status        = 'pending',
		       attempt_count = $2,
		       last_error    = $3,
		       scheduled_at  = $4,
		       progress      = 0,
		       claimed_at    = NULL,
		       claimed_by    = NULL,
		       heartbeat_at  = NULL,
		       updated_at    = NOW()
		WHERE  id = $1 AND status = 'active' AND attempt_count = $2 - 1`,
		jobID, attemptNum, lastError, retryAt)
	return err
}

func (r *JobRepository) Fail(ctx context.Context, jobID string, attemptNum int, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status        = 'failed',
		       attempt_count = $2,
		       last_error    = $3,
		       finished_at   = NOW(),
		       updated_at    = NOW()
		WHERE  id = $1 AND status = 'active' AND attempt_count = $2 - 1`,
		jobID, attemptNum, lastError)
	return err
}

func (r *JobRepository) RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status        = 'pending',
		       attempt_count = attempt_count + 1,
		       last_error    = 'worker timeout',
		       progress      = 0,
		       claimed_at    = NULL,
		       claimed_by    = NULL,
		       heartbeat_at  = NULL,
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status            = 'active'
			  AND  heartbeat_at      < $1
			  AND  attempt_count + 1 < max_attempts
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *JobRepository) FailStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status        = 'failed',
		       attempt_count = attempt_count + 1,
		       last_error    = 'worker timeout: max attempts exceeded',
		       finished_at   = NOW(),
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status             = 'active'
			  AND  heartbeat_at       < $1
			  AND  attempt_count + 1 >= max_attempts
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *JobRepository) PurgeCompleted(ctx context.Context, olderThan time.Time, keep int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status = 'completed'
		  AND (
			finished_at < $1
			OR id IN (
				SELECT id FROM jobs
				WHERE status = 'completed'
				ORDER BY finished_at DESC
				OFFSET $2
			)
		  )`, olderThan, keep)
	return int(tag.RowsAffected()), err
}

func (r *JobRepository) PurgeFailed(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('failed', 'cancelled')
		  AND finished_at < $1`, olderThan)
	return int(tag.RowsAffected()), err
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.DedupKey, &j.ContentID, &j.Platform, &j.UserID, &j.OrgID,
		&j.AccessToken, &j.ContentText, &j.Status, &j.ScheduledAt, &j.Progress,
		&j.AttemptCount, &j.MaxAttempts, &j.ClaimedAt, &j.ClaimedBy, &j.HeartbeatAt,
		&j.PlatformPostID, &j.PublishedAt, &j.LastError, &j.ProcessedAt, &j.FinishedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
