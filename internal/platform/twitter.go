package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
)

const defaultTwitterAPIBase = "https://api.twitter.com"

// Twitter publishes via the Twitter API v2 tweet endpoint.
type Twitter struct {
	client      *http.Client
	apiBase     string
	bearerToken string // app credential used when the job carries no token
}

func NewTwitter(bearerToken string) *Twitter {
	return &Twitter{
		client:      &http.Client{Timeout: 30 * time.Second},
		apiBase:     defaultTwitterAPIBase,
		bearerToken: bearerToken,
	}
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (t *Twitter) Publish(ctx context.Context, text, accessToken string) domain.JobResult {
	token := accessToken
	if token == "" {
		token = t.bearerToken
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return failure(domain.PlatformTwitter, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return failure(domain.PlatformTwitter, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return failure(domain.PlatformTwitter, fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return failure(domain.PlatformTwitter, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	var tweet tweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&tweet); err != nil {
		return failure(domain.PlatformTwitter, fmt.Errorf("decode response: %w", err))
	}

	now := time.Now().UTC()
	return domain.JobResult{
		Success:        true,
		PlatformPostID: tweet.Data.ID,
		PublishedAt:    &now,
	}
}

func (t *Twitter) ValidateToken(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiBase+"/2/users/me", nil)
	if err != nil {
		return fmt.Errorf("token check: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("token check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidToken
	default:
		return fmt.Errorf("token check: unexpected status code: %d", resp.StatusCode)
	}
}
