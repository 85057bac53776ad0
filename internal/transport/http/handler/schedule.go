package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/KAR2812/CaaS/internal/usecase"
	"github.com/gin-gonic/gin"
)

type ScheduleHandler struct {
	uc     *usecase.JobUsecase
	logger *slog.Logger
}

func NewScheduleHandler(uc *usecase.JobUsecase, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{uc: uc, logger: logger.With("component", "schedule_handler")}
}

type scheduleRequest struct {
	ContentID   string          `json:"content_id"   binding:"required"`
	Platform    domain.Platform `json:"platform"     binding:"required,oneof=twitter linkedin instagram"`
	ScheduledAt time.Time       `json:"scheduled_at" binding:"required"`
	UserID      string          `json:"user_id"      binding:"required"`
	OrgID       string          `json:"org_id"       binding:"required"`
	AccessToken *string         `json:"access_token"`
	ContentText *string         `json:"content_text"`
}

type scheduleResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// jobData is the request payload echoed back by the status query. The
// access token is deliberately omitted.
type jobData struct {
	ContentID   string          `json:"content_id"`
	Platform    domain.Platform `json:"platform"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	UserID      string          `json:"user_id"`
	OrgID       string          `json:"org_id"`
	ContentText *string         `json:"content_text,omitempty"`
}

type returnValue struct {
	Success        bool       `json:"success"`
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	Error          string     `json:"error,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

type statusResponse struct {
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	Data        jobData      `json:"data"`
	CreatedAt   time.Time    `json:"created_at"`
	ProcessedOn *time.Time   `json:"processed_on,omitempty"`
	FinishedOn  *time.Time   `json:"finished_on,omitempty"`
	ReturnValue *returnValue `json:"return_value,omitempty"`
}

func (h *ScheduleHandler) Schedule(ctx *gin.Context) {
	var req scheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errMissingFields, "details": err.Error()})
		return
	}

	job, err := h.uc.ScheduleJob(ctx.Request.Context(), usecase.ScheduleJobInput{
		ContentID:   req.ContentID,
		Platform:    req.Platform,
		ScheduledAt: req.ScheduledAt,
		UserID:      req.UserID,
		OrgID:       req.OrgID,
		AccessToken: req.AccessToken,
		ContentText: req.ContentText,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errDuplicateJob})
			return
		}
		h.logger.Error("schedule job", "content_id", req.ContentID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, scheduleResponse{
		JobID:       job.ID,
		Status:      "scheduled",
		ScheduledAt: job.ScheduledAt,
	})
}

func (h *ScheduleHandler) GetStatus(ctx *gin.Context) {
	jobID := ctx.Param("id")

	view, err := h.uc.GetStatus(ctx.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("get job status", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := statusResponse{
		JobID:    view.JobID,
		Status:   view.Status,
		Progress: view.Progress,
		Data: jobData{
			ContentID:   view.Job.ContentID,
			Platform:    view.Job.Platform,
			ScheduledAt: view.Job.ScheduledAt,
			UserID:      view.Job.UserID,
			OrgID:       view.Job.OrgID,
			ContentText: view.Job.ContentText,
		},
		CreatedAt:   view.CreatedAt,
		ProcessedOn: view.ProcessedOn,
		FinishedOn:  view.FinishedOn,
	}
	if view.ReturnValue != nil {
		resp.ReturnValue = &returnValue{
			Success:        view.ReturnValue.Success,
			PlatformPostID: view.ReturnValue.PlatformPostID,
			Error:          view.ReturnValue.Error,
			PublishedAt:    view.ReturnValue.PublishedAt,
		}
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *ScheduleHandler) Cancel(ctx *gin.Context) {
	jobID := ctx.Param("id")

	err := h.uc.Cancel(ctx.Request.Context(), jobID)
	if err != nil {
		var invalidState *domain.ErrInvalidJobState
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.As(err, &invalidState):
			ctx.JSON(http.StatusBadRequest, gin.H{
				"error":         "Cannot cancel job in state: " + string(invalidState.State),
				"current_state": invalidState.State,
			})
		default:
			h.logger.Error("cancel job", "job_id", jobID, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Job canceled successfully",
		"job_id":  jobID,
	})
}

type attemptItem struct {
	AttemptNum     int        `json:"attempt_num"`
	WorkerID       string     `json:"worker_id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PlatformPostID *string    `json:"platform_post_id,omitempty"`
	Error          *string    `json:"error,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
}

func (h *ScheduleHandler) ListAttempts(ctx *gin.Context) {
	jobID := ctx.Param("id")

	attempts, err := h.uc.ListAttempts(ctx.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("list attempts", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]attemptItem, len(attempts))
	for i, a := range attempts {
		items[i] = attemptItem{
			AttemptNum:     a.AttemptNum,
			WorkerID:       a.WorkerID,
			StartedAt:      a.StartedAt,
			CompletedAt:    a.CompletedAt,
			PlatformPostID: a.PlatformPostID,
			Error:          a.Error,
			DurationMS:     a.DurationMS,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"job_id": jobID, "attempts": items})
}

func (h *ScheduleHandler) Health(ctx *gin.Context) {
	counts, err := h.uc.Health(ctx.Request.Context())
	if err != nil {
		h.logger.Error("queue health", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"status": "unhealthy",
			"error":  errInternalServer,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "scheduler",
		"queue": gin.H{
			"waiting":   counts.Waiting,
			"delayed":   counts.Delayed,
			"active":    counts.Active,
			"completed": counts.Completed,
			"failed":    counts.Failed,
			"total":     counts.Total(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
