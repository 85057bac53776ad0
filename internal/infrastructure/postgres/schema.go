package postgres

// Schema is the ordered, idempotent DDL for the scheduler's tables. Applied
// by cmd/migrate and by the repository integration tests.
var Schema = []string{
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		dedup_key        TEXT NOT NULL,
		content_id       TEXT NOT NULL,
		platform         TEXT NOT NULL CHECK (platform IN ('twitter', 'linkedin', 'instagram')),
		user_id          TEXT NOT NULL,
		org_id           TEXT NOT NULL,
		access_token     TEXT,
		content_text     TEXT,
		status           TEXT NOT NULL DEFAULT 'pending'
		                 CHECK (status IN ('pending', 'active', 'completed', 'failed', 'cancelled')),
		scheduled_at     TIMESTAMPTZ NOT NULL,
		progress         INT NOT NULL DEFAULT 0,
		attempt_count    INT NOT NULL DEFAULT 0,
		max_attempts     INT NOT NULL DEFAULT 3,
		claimed_at       TIMESTAMPTZ,
		claimed_by       TEXT,
		heartbeat_at     TIMESTAMPTZ,
		platform_post_id TEXT,
		published_at     TIMESTAMPTZ,
		last_error       TEXT,
		processed_at     TIMESTAMPTZ,
		finished_at      TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One live job per dedup key; terminal jobs do not block resubmission.
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_dedup_key_live
		ON jobs (dedup_key)
		WHERE status IN ('pending', 'active')`,

	// Claim path: due pending jobs ordered by scheduled time.
	`CREATE INDEX IF NOT EXISTS jobs_pending_due
		ON jobs (scheduled_at)
		WHERE status = 'pending'`,

	// Reaper path: stale active jobs ordered by last heartbeat.
	`CREATE INDEX IF NOT EXISTS jobs_active_heartbeat
		ON jobs (heartbeat_at)
		WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS job_attempts (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		job_id           UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		attempt_num      INT NOT NULL,
		worker_id        TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		platform_post_id TEXT,
		error            TEXT,
		duration_ms      BIGINT
	)`,

	`CREATE INDEX IF NOT EXISTS job_attempts_job_id
		ON job_attempts (job_id, started_at)`,
}
