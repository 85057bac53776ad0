package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/KAR2812/CaaS/internal/transport/http/handler"
	"github.com/KAR2812/CaaS/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, scheduleHandler *handler.ScheduleHandler, serviceToken string, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(serviceToken, jwtKey)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "CaaS Scheduler Service",
			"version":   "1.0.0",
			"status":    "running",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	v1 := r.Group("/api/v1")
	v1.GET("/health", scheduleHandler.Health)

	schedule := v1.Group("/schedule", authMW)
	schedule.POST("", scheduleHandler.Schedule)
	schedule.GET("/:id", scheduleHandler.GetStatus)
	schedule.GET("/:id/attempts", scheduleHandler.ListAttempts)
	schedule.DELETE("/:id", scheduleHandler.Cancel)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return r
}
