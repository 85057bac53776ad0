package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KAR2812/CaaS/config"
	"github.com/KAR2812/CaaS/internal/callback"
	"github.com/KAR2812/CaaS/internal/domain"
	"github.com/KAR2812/CaaS/internal/email"
	"github.com/KAR2812/CaaS/internal/health"
	"github.com/KAR2812/CaaS/internal/infrastructure/postgres"
	ctxlog "github.com/KAR2812/CaaS/internal/log"
	"github.com/KAR2812/CaaS/internal/metrics"
	"github.com/KAR2812/CaaS/internal/platform"
	"github.com/KAR2812/CaaS/internal/scheduler"
	httptransport "github.com/KAR2812/CaaS/internal/transport/http"
	"github.com/KAR2812/CaaS/internal/transport/http/handler"
	"github.com/KAR2812/CaaS/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns:       int32(cfg.DBMaxConns),
		MinConns:       int32(cfg.DBMinConns),
		ConnLifetime:   cfg.DBConnLifetime(),
		ConnIdleTime:   cfg.DBConnIdleTime(),
		ConnectTimeout: cfg.DBConnectTimeout(),
	})
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	jobRepo := postgres.NewJobRepository(pool)
	attemptRepo := postgres.NewAttemptRepository(pool)

	metrics.Register()
	checker := health.NewChecker(pool, jobRepo, logger, prometheus.DefaultRegisterer)

	adapters := platform.Registry{
		domain.PlatformTwitter:  platform.NewTwitter(cfg.TwitterBearerToken),
		domain.PlatformLinkedIn: platform.NewLinkedIn(),
	}
	if cfg.InstagramSimulator {
		adapters[domain.PlatformInstagram] = platform.NewInstagramSimulator(logger)
		logger.Warn("instagram adapter is a simulator, not a live integration")
	}

	backend := callback.NewClient(cfg.BackendURL, cfg.ServiceToken, cfg.CallbackTimeout(), logger)
	alerts := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.AlertFrom, logger)

	worker := scheduler.NewWorker(
		jobRepo,
		attemptRepo,
		adapters,
		backend,
		alerts,
		cfg.AlertTo,
		logger,
		cfg.PollInterval(),
		cfg.MaxConcurrentJobs,
		cfg.RetryBaseDelay(),
	)
	go worker.Start(ctx)

	// heartbeat fires every 10s; 30s timeout means 3 missed beats before a job is stale
	reaper := scheduler.NewReaper(jobRepo, logger, 30*time.Second, 30*time.Second)
	go reaper.Start(ctx)

	purger := scheduler.NewPurger(jobRepo, logger, cfg.CompletedRetention, cfg.CompletedKeepCount, cfg.FailedRetention)
	go func() {
		if err := purger.Start(ctx, cfg.PurgeSchedule); err != nil {
			logger.Error("purger", "error", err)
		}
	}()

	jobUsecase := usecase.NewJobUsecase(jobRepo, attemptRepo, cfg.JobRetryAttempts)
	scheduleHandler := handler.NewScheduleHandler(jobUsecase, logger)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, scheduleHandler, cfg.ServiceToken, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	// The lease loop stopped with ctx; give in-flight publishes the grace
	// period to finish. On timeout the jobs stay active and the reaper
	// reclaims them after the heartbeat cutoff on next startup.
	if worker.Drain(cfg.ShutdownGrace()) {
		logger.Info("scheduler shut down cleanly")
		return
	}

	logger.Error("forced shutdown: grace period elapsed with publishes still in flight")
	pool.Close()
	os.Exit(1)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
