package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request and records request metrics.
// Probe and scrape endpoints log at debug level.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		metricRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metricLatency.WithLabelValues(route).Observe(float64(latency.Milliseconds()))

		level := zerolog.InfoLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case route == "/healthz" || route == "/readyz" || route == "/metrics":
			level = zerolog.DebugLevel
		}
		evt := log.WithLevel(level).Str("module", "api").
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", latency)
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Msg("request")
	}
}
