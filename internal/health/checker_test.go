package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/KAR2812/CaaS/internal/health"
	"github.com/prometheus/client_golang/prometheus"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockCounts struct {
	counts domain.QueueCounts
	err    error
}

func (m *mockCounts) Counts(_ context.Context) (domain.QueueCounts, error) {
	return m.counts, m.err
}

func newTestChecker(p health.Pinger, c health.CountsProvider) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.Default()
	return health.NewChecker(p, c, logger, reg), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{err: errors.New("db down")}, &mockCounts{})

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_PostgresUp(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{}, &mockCounts{
		counts: domain.QueueCounts{Waiting: 3, Delayed: 7, Active: 2},
	})

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	pg, ok := result.Checks["postgres"]
	if !ok {
		t.Fatal("missing postgres check")
	}
	if pg.Status != "up" {
		t.Fatalf("expected postgres up, got %s", pg.Status)
	}

	if g := testGauge(t, reg, "caas_health_check_up", "dependency", "postgres"); g != 1 {
		t.Fatalf("expected gauge 1, got %f", g)
	}
	if g := testGauge(t, reg, "caas_queue_jobs", "state", "delayed"); g != 7 {
		t.Fatalf("expected delayed depth 7, got %f", g)
	}
}

func TestReadiness_PostgresDown(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{err: errors.New("connection refused")}, &mockCounts{})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	pg := result.Checks["postgres"]
	if pg.Status != "down" {
		t.Fatalf("expected postgres down, got %s", pg.Status)
	}
	if pg.Error == "" {
		t.Fatal("expected error message")
	}

	if g := testGauge(t, reg, "caas_health_check_up", "dependency", "postgres"); g != 0 {
		t.Fatalf("expected gauge 0, got %f", g)
	}
}

func TestReadiness_CountsFailureStaysReady(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{}, &mockCounts{err: errors.New("query timeout")})

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up when only counts fail, got %s", result.Status)
	}
}

func testGauge(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}
