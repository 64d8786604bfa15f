package handler

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"edge-proxy/internal/config"
	"edge-proxy/internal/service"
)

//go:embed landing.html
var landingPage []byte

// preflightAllowHeaders are the request headers a cross-origin page may send,
// including those needed to negotiate a WebSocket.
var preflightAllowHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
	"Content-Type",
	"Connection",
	"Upgrade",
	"Sec-WebSocket-Key",
	"Sec-WebSocket-Version",
	"Sec-WebSocket-Protocol",
	"Sec-WebSocket-Extensions",
}

// LandingHandler serves the proxy's own surface: the bootstrap form, the
// favicon redirect and CORS preflight answers.
type LandingHandler struct {
	faviconURL string
}

// NewLandingHandler creates a LandingHandler.
func NewLandingHandler(cfg *config.Config) *LandingHandler {
	return &LandingHandler{faviconURL: cfg.Landing.FaviconURL}
}

// Form serves the target-entry page and forgets any remembered upstream.
func (h *LandingHandler) Form(c echo.Context) error {
	c.SetCookie(service.ClearSessionCookie())
	c.Response().Header().Set("X-Frame-Options", "DENY")
	return c.HTMLBlob(http.StatusOK, landingPage)
}

// Favicon redirects to the configured icon.
func (h *LandingHandler) Favicon(c echo.Context) error {
	return c.Redirect(http.StatusFound, h.faviconURL)
}

// Preflight answers CORS preflight requests for any path.
func (h *LandingHandler) Preflight(c echo.Context) error {
	hdr := c.Response().Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", strings.Join(preflightAllowHeaders, ","))
	hdr.Set("Access-Control-Max-Age", "86400")
	return c.NoContent(http.StatusNoContent)
}

// Root serves "/": preflight for OPTIONS, the form for everything else.
func (h *LandingHandler) Root(c echo.Context) error {
	if c.Request().Method == http.MethodOptions {
		return h.Preflight(c)
	}
	return h.Form(c)
}
