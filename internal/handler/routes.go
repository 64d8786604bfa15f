package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edge-proxy/internal/config"
	"edge-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Method-specific routes take precedence over Any on the same path.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, landing *LandingHandler, health *HealthHandler) {
	e.GET("/_proxy/healthz", health.Healthz)
	e.GET("/_proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.GET("/favicon.ico", landing.Favicon)
	e.Any("/", landing.Root)

	e.Any("/*", proxy.Handle)
	e.OPTIONS("/*", landing.Preflight)
}
