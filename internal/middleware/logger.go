package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/duespark/collector-api/pkg/logger"
)

// Logger logs every HTTP request after it completes. Bodies are not
// captured; callback payloads carry provider refs we do not want in logs.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		event := log.ZL.Info()
		if status >= 500 {
			event = log.ZL.Error()
		} else if status >= 400 {
			event = log.ZL.Warn()
		}

		event.
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Msg("request completed")
	}
}
