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

const defaultLinkedInAPIBase = "https://api.linkedin.com"

// LinkedIn publishes member shares through the ugcPosts API. Posting needs
// two calls: resolve the member URN from the token, then create the share.
type LinkedIn struct {
	client  *http.Client
	apiBase string
}

func NewLinkedIn() *LinkedIn {
	return &LinkedIn{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiBase: defaultLinkedInAPIBase,
	}
}

type linkedinProfile struct {
	ID string `json:"id"`
}

type linkedinShare struct {
	ID string `json:"id"`
}

func (l *LinkedIn) Publish(ctx context.Context, text, accessToken string) domain.JobResult {
	profile, err := l.me(ctx, accessToken)
	if err != nil {
		return failure(domain.PlatformLinkedIn, err)
	}

	post := map[string]any{
		"author":         "urn:li:person:" + profile.ID,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	body, err := json.Marshal(post)
	if err != nil {
		return failure(domain.PlatformLinkedIn, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiBase+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return failure(domain.PlatformLinkedIn, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return failure(domain.PlatformLinkedIn, fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return failure(domain.PlatformLinkedIn, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	var share linkedinShare
	if err := json.NewDecoder(resp.Body).Decode(&share); err != nil {
		return failure(domain.PlatformLinkedIn, fmt.Errorf("decode response: %w", err))
	}

	now := time.Now().UTC()
	return domain.JobResult{
		Success:        true,
		PlatformPostID: share.ID,
		PublishedAt:    &now,
	}
}

func (l *LinkedIn) ValidateToken(ctx context.Context, accessToken string) error {
	_, err := l.me(ctx, accessToken)
	return err
}

func (l *LinkedIn) me(ctx context.Context, accessToken string) (*linkedinProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiBase+"/v2/me", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("profile lookup: unexpected status code: %d", resp.StatusCode)
	}

	var profile linkedinProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}
