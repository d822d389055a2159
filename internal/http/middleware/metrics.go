package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/http/response"
	"github.com/yungbote/panelapp-backend/internal/observability"
)

const metricsRoute = "/metrics"

// Metrics records request counts and latency per route, and counts error
// responses by their envelope code. Scrapes of the metrics endpoint are
// not recorded.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if c.FullPath() == metricsRoute {
			c.Next()
			return
		}
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
		if c.Writer.Status() >= 400 {
			m.ObserveAPIError(route, c.GetString(response.ErrorCodeKey))
		}
	}
}
