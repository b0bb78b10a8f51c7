package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/server/internal/shared/metrics"
)

// Metrics records request counts and latency by route pattern. Websocket
// upgrades are skipped; the realtime sessions gauge tracks them.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
