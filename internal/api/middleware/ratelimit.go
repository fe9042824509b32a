package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"meshforge/internal/pkg/metrics"
	"meshforge/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit rejects requests once the caller's token bucket is empty.
// The limiter is shared across instances through Redis; on limiter errors
// the request is let through rather than failing closed.
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		ok, err := limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limit check failed", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !ok {
			metrics.RateLimitedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
