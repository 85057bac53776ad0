package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/KAR2812/CaaS/internal/callback"
	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/KAR2812/CaaS/internal/email"
	"github.com/KAR2812/CaaS/internal/metrics"
	"github.com/KAR2812/CaaS/internal/platform"
	"github.com/KAR2812/CaaS/internal/repository"
	"github.com/KAR2812/CaaS/internal/requestid"
)

// Backend is the slice of the callback client the worker needs.
type Backend interface {
	Notify(ctx context.Context, payload callback.Payload)
	FetchContent(ctx context.Context, contentID string) (string, error)
}

type Worker struct {
	id        string
	repo      repository.JobRepository
	attempts  repository.AttemptRepository
	adapters  platform.Registry
	backend   Backend
	alerts    email.Sender
	alertTo   string
	logger    *slog.Logger
	baseDelay time.Duration

	pollInterval time.Duration
	concurrency  int
	sem          chan struct{}
	wg           sync.WaitGroup
}

func NewWorker(
	repo repository.JobRepository,
	attempts repository.AttemptRepository,
	adapters platform.Registry,
	backend Backend,
	alerts email.Sender,
	alertTo string,
	logger *slog.Logger,
	pollInterval time.Duration,
	concurrency int,
	baseDelay time.Duration,
) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Worker{
		id:           id,
		repo:         repo,
		attempts:     attempts,
		adapters:     adapters,
		backend:      backend,
		alerts:       alerts,
		alertTo:      alertTo,
		logger:       logger.With("worker_id", id),
		baseDelay:    baseDelay,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		sem:          make(chan struct{}, concurrency),
	}
}

func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker pool started", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker pool stopped leasing")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Drain blocks until all in-flight publishes finish, or timeout elapses.
// Returns false on timeout; the abandoned jobs stay active and are reclaimed
// by the reaper once their heartbeat goes stale.
func (w *Worker) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return
	}

	jobs, err := w.repo.Claim(ctx, w.id, available)
	if err != nil {
		w.logger.Error("claim jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	w.logger.Info("claimed jobs", "count", len(jobs), "slots_used", len(w.sem)+len(jobs), "slots_total", cap(w.sem))

	// Jobs run detached from the lease loop's context: a stop signal only
	// stops claiming, and Drain bounds how long in-flight publishes get to
	// finish. Cancelling them here would abort the publish mid-flight and
	// fail the outcome write on the same dead context.
	jobCtx := context.WithoutCancel(ctx)

	for _, job := range jobs {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(j *domain.Job) {
			metrics.JobsInFlight.Inc()
			defer metrics.JobsInFlight.Dec()
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.runJob(jobCtx, j)
		}(job)
	}
}

// outcome is what one execution attempt concluded. Terminal failures
// (unsupported platform, rejected credential) never retry: repeating them
// cannot succeed.
type outcome struct {
	result   domain.JobResult
	terminal bool
}

func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	ctx = requestid.WithJobID(ctx, job.ID)
	attemptNum := job.AttemptCount + 1

	metrics.JobPickupLatency.Observe(time.Since(job.ScheduledAt).Seconds())

	startedAt := time.Now()

	// Open the attempt record before executing so a worker crash leaves a
	// visible incomplete entry (completed_at = NULL) in the history.
	attempt, err := w.attempts.CreateAttempt(ctx, &domain.JobAttempt{
		JobID:      job.ID,
		AttemptNum: attemptNum,
		WorkerID:   w.id,
		StartedAt:  startedAt,
	})
	if err != nil {
		// Fatal: if the DB is unhealthy enough to reject this write, the
		// outcome writes will fail too. Return now: the job stays active,
		// the heartbeat stops, and the reaper reschedules it after the
		// stale cutoff.
		w.logger.Error("create attempt record, aborting run; reaper will reschedule", "job_id", job.ID, "error", err)
		return
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, job.ID)

	w.logger.Info("publishing", "job_id", job.ID, "platform", job.Platform, "content_id", job.ContentID, "attempt", attemptNum)

	o := w.execute(ctx, job)
	durationMS := time.Since(startedAt).Milliseconds()

	w.closeAttempt(ctx, attempt, o.result, durationMS)
	w.notify(ctx, job, o.result)
	w.report(ctx, job, attemptNum, o)
}

// execute runs the publish sequence for one claimed job and classifies the
// outcome. It never writes job state; that belongs to report.
func (w *Worker) execute(ctx context.Context, job *domain.Job) outcome {
	adapter, ok := w.adapters.Lookup(job.Platform)
	if !ok {
		return outcome{
			result:   domain.JobResult{Error: fmt.Sprintf("unsupported platform: %s", job.Platform)},
			terminal: true,
		}
	}

	token := ""
	if job.AccessToken != nil {
		token = *job.AccessToken
	}

	if token != "" {
		// Only a definite rejection by the platform is terminal; a failed
		// check (network blip, 5xx) keeps the retry budget in play.
		if err := adapter.ValidateToken(ctx, token); err != nil {
			return outcome{
				result:   domain.JobResult{Error: err.Error()},
				terminal: errors.Is(err, platform.ErrInvalidToken),
			}
		}
	}

	if err := w.repo.UpdateProgress(ctx, job.ID, 50); err != nil {
		w.logger.Warn("update progress", "job_id", job.ID, "error", err)
	}

	text, err := w.resolveContent(ctx, job)
	if err != nil {
		return outcome{result: domain.JobResult{Error: err.Error()}}
	}

	publishStart := time.Now()
	result := adapter.Publish(ctx, text, token)

	label := "failure"
	if result.Success {
		label = "success"
	}
	metrics.PublishDuration.WithLabelValues(string(job.Platform), label).Observe(time.Since(publishStart).Seconds())

	if err := w.repo.UpdateProgress(ctx, job.ID, 100); err != nil {
		w.logger.Warn("update progress", "job_id", job.ID, "error", err)
	}

	return outcome{result: result}
}

func (w *Worker) resolveContent(ctx context.Context, job *domain.Job) (string, error) {
	if job.ContentText != nil && *job.ContentText != "" {
		return *job.ContentText, nil
	}
	text, err := w.backend.FetchContent(ctx, job.ContentID)
	if err != nil {
		return "", fmt.Errorf("resolve content: %w", err)
	}
	return text, nil
}

// notify reports the outcome to the backend as a detached task. Failures
// are handled (logged) entirely inside the callback client and can
// never affect the job's own outcome.
func (w *Worker) notify(ctx context.Context, job *domain.Job, result domain.JobResult) {
	status := "failed"
	if result.Success {
		status = "published"
	}
	payload := callback.Payload{
		JobID:          job.ID,
		ContentID:      job.ContentID,
		Platform:       string(job.Platform),
		Status:         status,
		PlatformPostID: result.PlatformPostID,
		Error:          result.Error,
		PublishedAt:    result.PublishedAt,
	}

	// Detached from the job's cancellation: a shutdown mid-callback should
	// not lose an outcome report we can still deliver.
	go w.backend.Notify(context.WithoutCancel(ctx), payload)
}

// report proposes the outcome to the job store, which owns the state
// machine. The attempt number guards against duplicate reports.
func (w *Worker) report(ctx context.Context, job *domain.Job, attemptNum int, o outcome) {
	result := o.result

	if result.Success {
		if err := w.repo.Complete(ctx, job.ID, attemptNum, result); err != nil {
			w.logger.Error("mark job complete", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobsCompletedTotal.WithLabelValues("success").Inc()
		w.logger.Info("job completed", "job_id", job.ID, "platform", job.Platform, "platform_post_id", result.PlatformPostID)
		return
	}

	if !o.terminal && attemptNum < job.MaxAttempts {
		retryAt := time.Now().Add(retryDelay(w.baseDelay, attemptNum))
		if err := w.repo.Reschedule(ctx, job.ID, attemptNum, result.Error, retryAt); err != nil {
			w.logger.Error("reschedule job", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobsCompletedTotal.WithLabelValues("retry").Inc()
		w.logger.Warn("publish failed, will retry",
			"job_id", job.ID,
			"error", result.Error,
			"attempt", attemptNum,
			"max_attempts", job.MaxAttempts,
			"retry_at", retryAt,
		)
		return
	}

	if err := w.repo.Fail(ctx, job.ID, attemptNum, result.Error); err != nil {
		w.logger.Error("mark job failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
	w.logger.Warn("job permanently failed", "job_id", job.ID, "error", result.Error, "terminal", o.terminal)
	w.alert(ctx, job, result.Error)
}

// alert emails ops about a terminal failure. Best effort.
func (w *Worker) alert(ctx context.Context, job *domain.Job, errMsg string) {
	if w.alerts == nil || w.alertTo == "" {
		return
	}
	subject := fmt.Sprintf("Scheduled post failed: %s on %s", job.ContentID, job.Platform)
	body := fmt.Sprintf("<p>Job %s exhausted its attempts.</p><p>Error: %s</p>", job.ID, errMsg)
	if err := w.alerts.Send(context.WithoutCancel(ctx), w.alertTo, subject, body); err != nil {
		w.logger.Warn("send failure alert", "job_id", job.ID, "error", err)
	}
}

// closeAttempt writes the execution outcome to the attempt record.
func (w *Worker) closeAttempt(ctx context.Context, attempt *domain.JobAttempt, result domain.JobResult, durationMS int64) {
	var postID, errMsg *string
	if result.PlatformPostID != "" {
		postID = &result.PlatformPostID
	}
	if result.Error != "" {
		errMsg = &result.Error
	}
	if err := w.attempts.CompleteAttempt(ctx, attempt.ID, postID, errMsg, durationMS); err != nil {
		w.logger.Error("complete attempt record", "job_id", attempt.JobID, "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.UpdateHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
