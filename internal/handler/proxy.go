package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"edge-proxy/internal/model"
	"edge-proxy/internal/service"
)

// secretParamPattern matches credential-like query parameters in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)([?&](?:api_?key|access_token|token|key|sig|signature)=)[^&\s"]+`)

// ProxyHandler forwards every non-reserved request to the target it resolves to.
type ProxyHandler struct {
	service *service.ProxyService
	landing *LandingHandler
	relay   *Relay
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, landing *LandingHandler, relay *Relay, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		landing: landing,
		relay:   relay,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle resolves the target, forwards the request and streams the rewritten
// response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	rc := model.NewRequestContext(c.Request())

	res, err := h.service.Resolve(rc)
	if err != nil {
		return h.mapError(c, err)
	}
	if res.Bootstrap {
		return h.landing.Form(c)
	}

	if rc.IsUpgrade {
		return h.upgrade(c, rc, res)
	}

	resp, err := h.service.Forward(rc, res)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If the copy fails
	// mid-stream (e.g. client disconnect, network error), the status has
	// already been sent and the client sees a truncated body.
	if _, err := io.Copy(&flushWriter{c.Response()}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"host", res.Target.Host,
		)
	}

	return nil
}

func (h *ProxyHandler) upgrade(c echo.Context, rc *model.RequestContext, res *service.Resolution) error {
	upstream, err := h.service.Upgrade(rc, res)
	if err != nil {
		return h.mapError(c, err)
	}

	if err := h.relay.Serve(c.Response(), c.Request(), upstream); err != nil {
		h.logger.Debug("websocket relay closed",
			"err", err,
			"host", res.Target.Host,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	c.Response().Header().Set("Access-Control-Allow-Origin", "*")

	var te *service.TargetError
	if errors.As(err, &te) {
		h.logger.Warn("invalid target domain",
			"source", te.Source,
			"value", te.Value,
			"path", c.Request().URL.Path,
		)
		msg := "Invalid target domain"
		if te.Source == service.SourceCookie {
			msg = "Invalid cookie domain"
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}

	var ue *service.UpgradeError
	if errors.As(err, &ue) {
		h.logger.Warn("websocket upgrade refused upstream",
			"status", ue.StatusCode,
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "WebSocket upgrade failed: " + ue.Status,
		})
	}

	msg := sanitizeError(err)
	h.logger.Error("proxy error",
		"err", msg,
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "Proxy error: " + msg,
	})
}

// sanitizeError redacts credential query parameters from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// flushWriter pushes each chunk to the client as soon as it is copied so
// long-lived streams are not held in server buffers.
type flushWriter struct {
	res *echo.Response
}

func (w *flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if err == nil {
		w.res.Flush()
	}
	return n, err
}
