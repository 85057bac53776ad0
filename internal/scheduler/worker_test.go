package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/KAR2812/CaaS/internal/callback"
	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/KAR2812/CaaS/internal/platform"
)

// ---- fakes ----

type fakeJobRepo struct {
	claim          func(ctx context.Context, workerID string, limit int) ([]*domain.Job, error)
	complete       func(ctx context.Context, jobID string, attemptNum int, result domain.JobResult) error
	reschedule     func(ctx context.Context, jobID string, attemptNum int, lastError string, retryAt time.Time) error
	fail           func(ctx context.Context, jobID string, attemptNum int, lastError string) error
	updateProgress func(ctx context.Context, jobID string, progress int) error
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	return job, nil
}
func (r *fakeJobRepo) GetByID(_ context.Context, _ string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (r *fakeJobRepo) Cancel(_ context.Context, _ string) error { return nil }
func (r *fakeJobRepo) Counts(_ context.Context) (domain.QueueCounts, error) {
	return domain.QueueCounts{}, nil
}
func (r *fakeJobRepo) Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error) {
	if r.claim != nil {
		return r.claim(ctx, workerID, limit)
	}
	return nil, nil
}
func (r *fakeJobRepo) UpdateHeartbeat(_ context.Context, _ string) error { return nil }
func (r *fakeJobRepo) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if r.updateProgress != nil {
		return r.updateProgress(ctx, jobID, progress)
	}
	return nil
}
func (r *fakeJobRepo) Complete(ctx context.Context, jobID string, attemptNum int, result domain.JobResult) error {
	if r.complete != nil {
		return r.complete(ctx, jobID, attemptNum, result)
	}
	return nil
}
func (r *fakeJobRepo) Reschedule(ctx context.Context, jobID string, attemptNum int, lastError string, retryAt time.Time) error {
	if r.reschedule != nil {
		return r.reschedule(ctx, jobID, attemptNum, lastError, retryAt)
	}
	return nil
}
func (r *fakeJobRepo) Fail(ctx context.Context, jobID string, attemptNum int, lastError string) error {
	if r.fail != nil {
		return r.fail(ctx, jobID, attemptNum, lastError)
	}
	return nil
}
func (r *fakeJobRepo) RescheduleStale(_ context.Context, _ time.Time, _ int) (int, error) {
	return 0, nil
}
func (r *fakeJobRepo) FailStale(_ context.Context, _ time.Time, _ int) (int, error) {
	return 0, nil
}
func (r *fakeJobRepo) PurgeCompleted(_ context.Context, _ time.Time, _ int) (int, error) {
	return 0, nil
}
func (r *fakeJobRepo) PurgeFailed(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

type fakeAttemptRepo struct {
	created   []*domain.JobAttempt
	completed []string
	createErr error
}

func (r *fakeAttemptRepo) CreateAttempt(_ context.Context, a *domain.JobAttempt) (*domain.JobAttempt, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	a.ID = "attempt-1"
	r.created = append(r.created, a)
	return a, nil
}
func (r *fakeAttemptRepo) CompleteAttempt(_ context.Context, id string, _, _ *string, _ int64) error {
	r.completed = append(r.completed, id)
	return nil
}
func (r *fakeAttemptRepo) ListByJobID(_ context.Context, _ string) ([]*domain.JobAttempt, error) {
	return nil, nil
}

type fakeAdapter struct {
	publish       func(ctx context.Context, text, token string) domain.JobResult
	validateToken func(ctx context.Context, token string) error
	publishCalls  int
}

func (a *fakeAdapter) Publish(ctx context.Context, text, token string) domain.JobResult {
	a.publishCalls++
	return a.publish(ctx, text, token)
}

func (a *fakeAdapter) ValidateToken(ctx context.Context, token string) error {
	if a.validateToken != nil {
		return a.validateToken(ctx, token)
	}
	return nil
}

type fakeBackend struct {
	notified chan callback.Payload
	fetch    func(ctx context.Context, contentID string) (string, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{notified: make(chan callback.Payload, 8)}
}

func (b *fakeBackend) Notify(_ context.Context, payload callback.Payload) {
	b.notified <- payload
}

func (b *fakeBackend) FetchContent(ctx context.Context, contentID string) (string, error) {
	if b.fetch != nil {
		return b.fetch(ctx, contentID)
	}
	return "fetched content for " + contentID, nil
}

func (b *fakeBackend) waitForNotify(t *testing.T) callback.Payload {
	t.Helper()
	select {
	case p := <-b.notified:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backend callback")
		return callback.Payload{}
	}
}

// ---- helpers ----

func newTestWorker(repo *fakeJobRepo, attempts *fakeAttemptRepo, adapters platform.Registry, backend Backend) *Worker {
	return NewWorker(
		repo,
		attempts,
		adapters,
		backend,
		nil,
		"",
		slog.Default(),
		time.Second,
		2,
		60*time.Second,
	)
}

func str(s string) *string { return &s }

func testJob(p domain.Platform) *domain.Job {
	return &domain.Job{
		ID:           "job-1",
		DedupKey:     "c1-1700000000000",
		ContentID:    "c1",
		Platform:     p,
		UserID:       "u1",
		OrgID:        "o1",
		ContentText:  str("hello world"),
		Status:       domain.StatusActive,
		ScheduledAt:  time.Now().Add(-time.Second),
		AttemptCount: 0,
		MaxAttempts:  3,
	}
}

// ---- runJob ----

func TestRunJob_SuccessCompletesWithAttemptOne(t *testing.T) {
	publishedAt := time.Now().UTC()
	adapter := &fakeAdapter{
		publish: func(_ context.Context, text, _ string) domain.JobResult {
			if text != "hello world" {
				t.Errorf("published text = %q, want inline payload", text)
			}
			return domain.JobResult{Success: true, PlatformPostID: "tw-123", PublishedAt: &publishedAt}
		},
	}

	var completedAttempt int
	var completedResult domain.JobResult
	repo := &fakeJobRepo{
		complete: func(_ context.Context, jobID string, attemptNum int, result domain.JobResult) error {
			if jobID != "job-1" {
				t.Errorf("completed job %q", jobID)
			}
			completedAttempt = attemptNum
			completedResult = result
			return nil
		},
		fail: func(_ context.Context, jobID string, _ int, lastError string) error {
			t.Fatalf("unexpected fail for %s: %s", jobID, lastError)
			return nil
		},
	}

	attempts := &fakeAttemptRepo{}
	backend := newFakeBackend()
	w := newTestWorker(repo, attempts, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	w.runJob(context.Background(), testJob(domain.PlatformTwitter))

	if completedAttempt != 1 {
		t.Errorf("completed with attempt %d, want 1", completedAttempt)
	}
	if completedResult.PlatformPostID != "tw-123" {
		t.Errorf("platform post id = %q", completedResult.PlatformPostID)
	}

	payload := backend.waitForNotify(t)
	if payload.Status != "published" {
		t.Errorf("callback status = %q, want published", payload.Status)
	}
	if payload.ContentID != "c1" || payload.Platform != "twitter" {
		t.Errorf("callback tagged %q/%q, want c1/twitter", payload.ContentID, payload.Platform)
	}

	if len(attempts.created) != 1 || len(attempts.completed) != 1 {
		t.Errorf("attempt records: created %d, completed %d", len(attempts.created), len(attempts.completed))
	}
}

func TestRunJob_TransientFailureReschedulesWithBackoff(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			return domain.JobResult{Success: false, Error: "twitter publishing failed: unexpected status code: 503"}
		},
	}

	var retryAt time.Time
	var rescheduledAttempt int
	before := time.Now()
	repo := &fakeJobRepo{
		reschedule: func(_ context.Context, _ string, attemptNum int, _ string, at time.Time) error {
			rescheduledAttempt = attemptNum
			retryAt = at
			return nil
		},
		fail: func(_ context.Context, _ string, _ int, lastError string) error {
			t.Fatalf("unexpected terminal fail: %s", lastError)
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	w.runJob(context.Background(), testJob(domain.PlatformTwitter))

	if rescheduledAttempt != 1 {
		t.Errorf("rescheduled with attempt %d, want 1", rescheduledAttempt)
	}
	// First retry waits the base delay.
	wantMin := before.Add(60 * time.Second)
	if retryAt.Before(wantMin) {
		t.Errorf("retryAt %s is before %s", retryAt, wantMin)
	}

	if payload := backend.waitForNotify(t); payload.Status != "failed" {
		t.Errorf("callback status = %q, want failed", payload.Status)
	}
}

func TestRunJob_AttemptsExhaustedFailsTerminally(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			return domain.JobResult{Success: false, Error: "twitter publishing failed: timeout"}
		},
	}

	var failedAttempt int
	repo := &fakeJobRepo{
		reschedule: func(_ context.Context, _ string, _ int, _ string, _ time.Time) error {
			t.Fatal("exhausted job must not be rescheduled")
			return nil
		},
		fail: func(_ context.Context, _ string, attemptNum int, _ string) error {
			failedAttempt = attemptNum
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	job := testJob(domain.PlatformTwitter)
	job.AttemptCount = 2 // third and final attempt
	w.runJob(context.Background(), job)

	if failedAttempt != 3 {
		t.Errorf("failed with attempt %d, want 3", failedAttempt)
	}
	backend.waitForNotify(t)
}

func TestRunJob_UnsupportedPlatformIsTerminal(t *testing.T) {
	var failedErr string
	repo := &fakeJobRepo{
		reschedule: func(_ context.Context, _ string, _ int, _ string, _ time.Time) error {
			t.Fatal("unsupported platform must not retry")
			return nil
		},
		fail: func(_ context.Context, _ string, _ int, lastError string) error {
			failedErr = lastError
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{}, backend)

	w.runJob(context.Background(), testJob(domain.PlatformInstagram))

	if failedErr != "unsupported platform: instagram" {
		t.Errorf("last error = %q", failedErr)
	}
	if payload := backend.waitForNotify(t); payload.Status != "failed" {
		t.Errorf("callback status = %q, want failed", payload.Status)
	}
}

func TestRunJob_InvalidTokenIsTerminalAndSkipsPublish(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			return domain.JobResult{Success: true}
		},
		validateToken: func(_ context.Context, _ string) error { return platform.ErrInvalidToken },
	}

	var failedErr string
	repo := &fakeJobRepo{
		reschedule: func(_ context.Context, _ string, _ int, _ string, _ time.Time) error {
			t.Fatal("rejected credential must not retry")
			return nil
		},
		fail: func(_ context.Context, _ string, _ int, lastError string) error {
			failedErr = lastError
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	job := testJob(domain.PlatformTwitter)
	job.AccessToken = str("expired-token")
	w.runJob(context.Background(), job)

	if failedErr != "invalid or expired access token" {
		t.Errorf("last error = %q", failedErr)
	}
	if adapter.publishCalls != 0 {
		t.Errorf("publish called %d times after token rejection", adapter.publishCalls)
	}
	backend.waitForNotify(t)
}

func TestRunJob_TokenCheckFailureIsRetryable(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			t.Fatal("publish must not run with an unverified token")
			return domain.JobResult{}
		},
		validateToken: func(_ context.Context, _ string) error {
			return errors.New("token check: dial tcp: i/o timeout")
		},
	}

	var rescheduled bool
	repo := &fakeJobRepo{
		reschedule: func(_ context.Context, _ string, _ int, _ string, _ time.Time) error {
			rescheduled = true
			return nil
		},
		fail: func(_ context.Context, _ string, _ int, lastError string) error {
			t.Fatalf("a failed token check must not be terminal: %s", lastError)
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	job := testJob(domain.PlatformTwitter)
	job.AccessToken = str("possibly-fine-token")
	w.runJob(context.Background(), job)

	if !rescheduled {
		t.Error("token check failure should reschedule the job")
	}
	backend.waitForNotify(t)
}

func TestRunJob_ContentFetchErrorIsRetryable(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			t.Fatal("publish must not run without content")
			return domain.JobResult{}
		},
	}

	var rescheduled bool
	repo := &fakeJobRepo{
		reschedule: func(_ context.Context, _ string, _ int, lastError string, _ time.Time) error {
			rescheduled = true
			if lastError == "" {
				t.Error("reschedule without an error message")
			}
			return nil
		},
	}

	backend := newFakeBackend()
	backend.fetch = func(_ context.Context, _ string) (string, error) {
		return "", errors.New("backend unreachable")
	}
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	job := testJob(domain.PlatformTwitter)
	job.ContentText = nil
	w.runJob(context.Background(), job)

	if !rescheduled {
		t.Error("fetch failure should reschedule the job")
	}
	backend.waitForNotify(t)
}

func TestRunJob_ProgressMarkers(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			return domain.JobResult{Success: true, PlatformPostID: "tw-1"}
		},
	}

	var progress []int
	repo := &fakeJobRepo{
		updateProgress: func(_ context.Context, _ string, p int) error {
			progress = append(progress, p)
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	w.runJob(context.Background(), testJob(domain.PlatformTwitter))

	if len(progress) != 2 || progress[0] != 50 || progress[1] != 100 {
		t.Errorf("progress markers = %v, want [50 100]", progress)
	}
	backend.waitForNotify(t)
}

func TestRunJob_AttemptRecordFailureAbortsRun(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(_ context.Context, _, _ string) domain.JobResult {
			t.Fatal("publish must not run when the attempt record fails")
			return domain.JobResult{}
		},
	}

	repo := &fakeJobRepo{
		complete: func(_ context.Context, _ string, _ int, _ domain.JobResult) error {
			t.Fatal("no outcome should be written")
			return nil
		},
	}

	attempts := &fakeAttemptRepo{createErr: errors.New("db down")}
	backend := newFakeBackend()
	w := newTestWorker(repo, attempts, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	w.runJob(context.Background(), testJob(domain.PlatformTwitter))

	select {
	case p := <-backend.notified:
		t.Errorf("unexpected callback %+v", p)
	default:
	}
}

// ---- Drain ----

func TestDrain_InFlightPublishSurvivesStopSignal(t *testing.T) {
	adapter := &fakeAdapter{
		publish: func(ctx context.Context, _, _ string) domain.JobResult {
			select {
			case <-time.After(300 * time.Millisecond):
				return domain.JobResult{Success: true, PlatformPostID: "tw-1"}
			case <-ctx.Done():
				return domain.JobResult{Error: "twitter publishing failed: " + ctx.Err().Error()}
			}
		},
	}

	completed := make(chan int, 1)
	claims := 0
	repo := &fakeJobRepo{
		claim: func(_ context.Context, _ string, _ int) ([]*domain.Job, error) {
			claims++
			if claims > 1 {
				return nil, nil
			}
			return []*domain.Job{testJob(domain.PlatformTwitter)}, nil
		},
		complete: func(_ context.Context, _ string, attemptNum int, result domain.JobResult) error {
			if !result.Success {
				t.Errorf("in-flight publish aborted: %s", result.Error)
			}
			completed <- attemptNum
			return nil
		},
		reschedule: func(_ context.Context, _ string, _ int, lastError string, _ time.Time) error {
			t.Errorf("grace period ignored: job rescheduled with %q", lastError)
			return nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	// The stop signal lands while the publish is still running. The lease
	// loop's context dies; the job must keep its own and finish inside the
	// drain window.
	ctx, cancel := context.WithCancel(context.Background())
	w.processBatch(ctx)
	cancel()

	if !w.Drain(2 * time.Second) {
		t.Fatal("Drain timed out with the grace period still available")
	}

	select {
	case attemptNum := <-completed:
		if attemptNum != 1 {
			t.Errorf("completed with attempt %d, want 1", attemptNum)
		}
	default:
		t.Fatal("publish never completed after the stop signal")
	}
	backend.waitForNotify(t)
}

func TestDrain_WaitsForInFlightJobs(t *testing.T) {
	release := make(chan struct{})
	adapter := &fakeAdapter{
		publish: func(ctx context.Context, _, _ string) domain.JobResult {
			<-release
			return domain.JobResult{Success: true}
		},
	}

	claims := 0
	repo := &fakeJobRepo{
		claim: func(_ context.Context, _ string, _ int) ([]*domain.Job, error) {
			claims++
			if claims > 1 {
				return nil, nil
			}
			return []*domain.Job{testJob(domain.PlatformTwitter)}, nil
		},
	}

	backend := newFakeBackend()
	w := newTestWorker(repo, &fakeAttemptRepo{}, platform.Registry{domain.PlatformTwitter: adapter}, backend)

	ctx := context.Background()
	w.processBatch(ctx)

	if w.Drain(50 * time.Millisecond) {
		t.Fatal("Drain returned before the in-flight job finished")
	}

	close(release)
	if !w.Drain(2 * time.Second) {
		t.Fatal("Drain timed out after the job finished")
	}
	backend.waitForNotify(t)
}
