package middleware

import (
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs HTTP request/response metadata. Requests that went
// through AuthMiddleware also get the resolved user id attached.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if logger == nil {
			return
		}

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.Int("size", c.Writer.Size()),
			slog.String("latency", time.Since(start).String()),
		}
		if userID := c.GetInt("userID"); userID != 0 {
			attrs = append(attrs, slog.Int("user_id", userID))
		}
		logger.Info("http request", attrs...)
	}
}
