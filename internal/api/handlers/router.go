package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Environment string
	MetricsPath string // empty disables /metrics
	Health      map[string]HealthCheck
}

// NewRouter wires every route onto a new gin engine.
func NewRouter(h *Handler, opts RouterOptions, log *logger.Logger) *gin.Engine {
	if opts.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", healthHandler(opts.Health))
	if opts.MetricsPath != "" {
		router.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	api.POST("/awards", h.PostAward)
	api.POST("/users/:id", h.CreateUser)
	api.DELETE("/users/:id", h.DeleteUser)
	api.GET("/users/:id/reputation", h.GetReputation)
	api.GET("/users/:id/activities", h.GetActivities)
	api.GET("/users/:id/milestones", h.GetUserMilestones)
	api.GET("/milestones", h.GetCatalog)
	api.GET("/leaderboard", h.GetLeaderboard)
	api.GET("/stream", h.Stream)

	return router
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":    state,
			"checks":    results,
			"timestamp": time.Now().UTC(),
		})
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.FullPath() == "/api/v1/stream" {
			return
		}
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}
