package platform

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
)

// InstagramSimulator stands in for the Instagram Graph API, which needs a
// Facebook Business account and content-publishing approval. It is only
// registered when the deployment explicitly opts in (INSTAGRAM_SIMULATOR),
// so it can never be mistaken for a live integration. Publishing fails
// randomly at the configured rate to exercise the retry path.
type InstagramSimulator struct {
	logger      *slog.Logger
	failureRate float64
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewInstagramSimulator(logger *slog.Logger) *InstagramSimulator {
	return &InstagramSimulator{
		logger:      logger.With("component", "instagram_simulator"),
		failureRate: 0.1,
		latency:     500 * time.Millisecond,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// newInstagramSimulatorForTest allows deterministic outcomes.
func newInstagramSimulatorForTest(logger *slog.Logger, failureRate float64, seed int64) *InstagramSimulator {
	return &InstagramSimulator{
		logger:      logger,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *InstagramSimulator) Publish(ctx context.Context, text, accessToken string) domain.JobResult {
	preview := text
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	s.logger.Info("simulated instagram post", "text", preview)

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return failure(domain.PlatformInstagram, ctx.Err())
		}
	}

	s.mu.Lock()
	failed := s.rng.Float64() < s.failureRate
	s.mu.Unlock()

	if failed {
		return domain.JobResult{
			Success: false,
			Error:   "instagram simulator: injected API failure",
		}
	}

	now := time.Now().UTC()
	return domain.JobResult{
		Success:        true,
		PlatformPostID: fmt.Sprintf("sim_ig_%d", now.UnixMilli()),
		PublishedAt:    &now,
	}
}

func (s *InstagramSimulator) ValidateToken(_ context.Context, accessToken string) error {
	if accessToken == "" {
		return ErrInvalidToken
	}
	return nil
}
