package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docsearch/internal/config"
	"docsearch/internal/models"
	"docsearch/pkg/logger"
	"docsearch/pkg/ratelimiter"
)

// RequestLogMiddleware logs one structured entry per request.
func RequestLogMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithRequest(models.RequestInfo{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		}).WithPayload(map[string]interface{}{
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info(fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path))
	}
}

// RateLimitMiddleware rejects requests above the configured rate with 429.
func RateLimitMiddleware(limiter ratelimiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes registers all routes of the search service.
func RegisterRoutes(router *gin.Engine, api *API, mw config.MiddlewareConfig) {
	router.Use(RequestLogMiddleware(api.logger))
	router.GET("/healthz", api.HealthHandler)

	v1 := router.Group("/api/v1")
	if mw.RateLimiter.Enabled {
		limiter := ratelimiter.NewTokenBucket(mw.RateLimiter.Rate, mw.RateLimiter.Capacity)
		v1.Use(RateLimitMiddleware(limiter))
	}
	{
		v1.POST("/search", api.SearchHandler)
		v1.POST("/answer", api.AnswerHandler)
		v1.POST("/ingest", api.IngestHandler)
		v1.GET("/reports", api.ListReportsHandler)
		v1.GET("/reports/:id", api.GetReportHandler)
		v1.GET("/products", api.ListProductsHandler)
	}
}
