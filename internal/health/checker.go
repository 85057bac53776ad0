package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CountsProvider is satisfied by the job repository.
type CountsProvider interface {
	Counts(ctx context.Context) (domain.QueueCounts, error)
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that the job store is reachable and exports queue depth.
type Checker struct {
	db     Pinger
	counts CountsProvider
	logger *slog.Logger
	up     *prometheus.GaugeVec
	depth  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauges.
func NewChecker(db Pinger, counts CountsProvider, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	up := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "caas",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "caas",
		Name:      "queue_jobs",
		Help:      "Jobs currently in the queue, by state.",
	}, []string{"state"})
	reg.MustRegister(up, depth)

	return &Checker{
		db:     db,
		counts: counts,
		logger: logger.With("component", "health"),
		up:     up,
		depth:  depth,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings the job store and refreshes the queue depth gauges.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("postgres health check failed", "error", err)
		result.Status = "down"
		result.Checks["postgres"] = CheckResult{Status: "down", Error: err.Error()}
		c.up.WithLabelValues("postgres").Set(0)
		return result
	}

	result.Checks["postgres"] = CheckResult{Status: "up"}
	c.up.WithLabelValues("postgres").Set(1)

	counts, err := c.counts.Counts(checkCtx)
	if err != nil {
		// The store answered the ping, so stay ready; the gauges just go stale.
		c.logger.Warn("queue counts failed", "error", err)
		return result
	}

	c.depth.WithLabelValues("waiting").Set(float64(counts.Waiting))
	c.depth.WithLabelValues("delayed").Set(float64(counts.Delayed))
	c.depth.WithLabelValues("active").Set(float64(counts.Active))
	c.depth.WithLabelValues("completed").Set(float64(counts.Completed))
	c.depth.WithLabelValues("failed").Set(float64(counts.Failed))

	return result
}
