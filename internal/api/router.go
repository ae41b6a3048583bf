package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/orchestrator"
)

// NewRouter builds the HTTP handler. metricsHandler may be nil.
func NewRouter(o *orchestrator.Orchestrator, metricsHandler http.Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{orch: o}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/runs", h.submitRun)
		v1.GET("/runs", h.listRuns)
		v1.GET("/runs/:id", h.getRun)
		v1.POST("/runs/:id/cancel", h.cancelRun)
		v1.GET("/runs/:id/record", h.getRecord)
		v1.GET("/definitions", h.listDefinitions)
	}
	return r
}

// requestLogger puts logger into every request context and logs the
// outcome of each request at debug level.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(ctxlog.WithLogger(c.Request.Context(), logger))
		c.Next()
		logger.Debug("HTTP request served.",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
