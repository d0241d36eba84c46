package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestIDKey is the gin context key holding the request correlation id.
const RequestIDKey = "request_id"

const unmatchedRoute = "unmatched"

// RequestTelemetry logs each request and records it under its route pattern.
// Requests that match no route share one label. Handler errors attached with
// c.Error are logged with the request.
func RequestTelemetry(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		event := requestEvent(logger, route, status)
		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP())
		if serial := c.Param("serial"); serial != "" {
			event = event.Str("serial", serial)
		}
		if id := c.GetString(RequestIDKey); id != "" {
			event = event.Str("request_id", id)
		}
		if last := c.Errors.Last(); last != nil {
			event = event.Err(last.Err)
		}
		event.Msg("devexec.request")
	}
}

// requestEvent picks the level: scrapes stay at debug, failures go up.
func requestEvent(logger zerolog.Logger, route string, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error()
	case status >= 400:
		return logger.Warn()
	case route == "/health" || route == "/metrics":
		return logger.Debug()
	default:
		return logger.Info()
	}
}
