package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and counts per route. Streamed run submissions
// are counted as in flight for as long as their stream stays open.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
