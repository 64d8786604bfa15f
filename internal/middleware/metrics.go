package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"edge-proxy/internal/metrics"
	"edge-proxy/internal/model"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. WebSocket relays are counted but kept out of the
// latency histogram, since their duration is the lifetime of the socket.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			upgrade := model.IsUpgrade(c.Request().Header)
			start := time.Now()

			err := next(c)

			// A handler returning *echo.HTTPError has not written its status
			// yet; the central error handler does that after us.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}
			// Hijacked connections never touch the echo response.
			if upgrade && !c.Response().Committed {
				statusCode = 101
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			if !upgrade || statusCode != 101 {
				m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			}

			return err
		}
	}
}
