package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"authsessions/backend/internal/session/device"
)

// RequestLogger attaches a request-scoped zerolog logger and the client IP to the
// request context and logs one line when the request ends. It runs after the otelgin
// middleware so the line carries the request's trace id. skipPaths are served silently.
func RequestLogger(skipPaths map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		ip := device.ClientIP(r)
		ctx := WithClientIP(r.Context(), ip)
		if skipPaths[r.URL.Path] {
			c.Request = r.WithContext(ctx)
			c.Next()
			return
		}
		start := time.Now()

		logger := log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client_ip", ip).
			Str("trace_id", trace.SpanContextFromContext(ctx).TraceID().String()).
			Logger()
		c.Request = r.WithContext(logger.WithContext(ctx))
		c.Next()

		status := c.Writer.Status()
		ev := logger.Info()
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("route", c.FullPath()).Int("status", status).Dur("duration", time.Since(start)).Msg("http request")
	}
}
