// Package callback talks to the CaaS backend: outcome callbacks after each
// job finishes and content lookups for jobs scheduled without an inline
// payload.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/KAR2812/CaaS/internal/metrics"
)

// Payload is the outcome report POSTed to the backend's callback endpoint.
type Payload struct {
	JobID          string     `json:"job_id"`
	ContentID      string     `json:"content_id"`
	Platform       string     `json:"platform"`
	Status         string     `json:"status"` // "published" or "failed"
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	Error          string     `json:"error,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

type Client struct {
	baseURL      string
	serviceToken string
	client       *http.Client
	fetchClient  *http.Client
	logger       *slog.Logger
}

func NewClient(baseURL, serviceToken string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: timeout},
		fetchClient:  &http.Client{Timeout: 5 * time.Second},
		logger:       logger.With("component", "callback"),
	}
}

// Notify reports a job outcome to the backend. Best effort: every failure
// (timeout, non-2xx, connection error) is logged and swallowed; the job's
// outcome was already decided and a missed callback must not change it.
func (c *Client) Notify(ctx context.Context, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal callback payload", "job_id", payload.JobID, "error", err)
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/scheduling/callback/", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("build callback request", "job_id", payload.JobID, "error", err)
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("backend callback failed", "job_id", payload.JobID, "error", err)
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("backend callback rejected", "job_id", payload.JobID, "status_code", resp.StatusCode)
		metrics.CallbacksTotal.WithLabelValues("rejected").Inc()
		return
	}

	c.logger.Info("backend callback sent", "job_id", payload.JobID, "status", payload.Status)
	metrics.CallbacksTotal.WithLabelValues("ok").Inc()
}

type contentResponse struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// FetchContent retrieves the post text for a content reference. Unlike
// Notify this is on the job's critical path, so errors propagate: a fetch
// failure is a retryable job failure.
func (c *Client) FetchContent(ctx context.Context, contentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/content/%s/", c.baseURL, contentID), nil)
	if err != nil {
		return "", fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch content %s: %w", contentID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("fetch content %s: unexpected status code: %d", contentID, resp.StatusCode)
	}

	var content contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return "", fmt.Errorf("decode content %s: %w", contentID, err)
	}
	return content.Body, nil
}
