package statusapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/marketplace-sync/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware puts a request id into the request context, reusing the
// caller's X-Request-ID when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = logger.GenerateRequestID()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogMiddleware logs every request at debug level, and failures at warn.
func RequestLogMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		reqLog := log.WithContext(c.Request.Context())
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			reqLog.Warn("request failed", attrs...)
			return
		}
		reqLog.Debug("request", attrs...)
	}
}
