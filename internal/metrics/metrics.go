package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/KAR2812/CaaS/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "caas",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from a job becoming due to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	PublishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "caas",
		Name:      "publish_duration_seconds",
		Help:      "Duration of one platform publish attempt.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"platform", "outcome"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "caas",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being published.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caas",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	// Callback metrics

	CallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caas",
		Name:      "backend_callbacks_total",
		Help:      "Outcome callbacks to the backend, by result.",
	}, []string{"result"})

	// Reaper and purger metrics

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caas",
		Name:      "reaper_rescued_total",
		Help:      "Total stale jobs handled by the reaper.",
	}, []string{"action"})

	PurgedJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caas",
		Name:      "purged_jobs_total",
		Help:      "Jobs removed by the retention purger.",
	}, []string{"status"})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "caas",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker pool started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "caas",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker pool has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "caas",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caas",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		PublishDuration,
		JobsInFlight,
		JobsCompletedTotal,
		CallbacksTotal,
		ReaperRescuedTotal,
		PurgedJobsTotal,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// HealthReporter is implemented by health.Checker.
type HealthReporter interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

// NewServer serves /metrics plus the liveness and readiness probes on the
// operational port, away from the public API.
func NewServer(addr string, checker HealthReporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
