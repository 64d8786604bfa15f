package middleware

import (
	"github.com/labstack/echo/v4"

	"edge-proxy/internal/model"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from incoming requests and marks responses nosniff unless the upstream
// already decided. WebSocket upgrade requests keep Connection and Upgrade,
// which the handshake needs.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			upgrade := model.IsUpgrade(req.Header)
			for _, h := range hopByHopHeaders {
				if upgrade && (h == "Connection" || h == "Upgrade") {
					continue
				}
				req.Header.Del(h)
			}

			res := c.Response()
			res.Before(func() {
				if res.Header().Get("X-Content-Type-Options") == "" {
					res.Header().Set("X-Content-Type-Options", "nosniff")
				}
			})

			return next(c)
		}
	}
}
