// Package service implements target resolution, header policy and response
// rewriting around the upstream dispatcher.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"edge-proxy/internal/client"
	"edge-proxy/internal/config"
	"edge-proxy/internal/metrics"
	"edge-proxy/internal/model"
)

// ProxyService drives one request from resolution to a rewritten upstream response.
type ProxyService struct {
	client  *client.UpstreamClient
	cors    CORSPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// UpstreamSocket is an established upstream WebSocket plus the headers to
// send on the client-side 101 response.
type UpstreamSocket struct {
	Conn   *websocket.Conn
	Header http.Header
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable recording.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:  c,
		cors:    CORSPolicy{ExposeAll: cfg.CORS.ExposeAll},
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}
}

// CORS returns the policy applied to proxied responses.
func (s *ProxyService) CORS() CORSPolicy {
	return s.cors
}

// Resolve maps rc to its upstream target. See the package-level Resolve.
func (s *ProxyService) Resolve(rc *model.RequestContext) (*Resolution, error) {
	res, err := Resolve(rc)
	if err != nil {
		var te *TargetError
		if errors.As(err, &te) && s.metrics != nil {
			s.metrics.ResolveFailures.WithLabelValues(te.Source).Inc()
		}
		return nil, err
	}
	if res.Target != nil {
		s.logger.Debug("resolved target",
			"url", res.Target.URL(),
			"new_session", res.IssueSession,
		)
	}
	return res, nil
}

// Forward sends a plain HTTP request to the resolved target and returns the
// upstream response with client-facing headers. The caller is responsible
// for closing the response body.
func (s *ProxyService) Forward(rc *model.RequestContext, res *Resolution) (*model.ProxyResponse, error) {
	header := BuildForwardHeaders(rc, res.Target)

	resp, err := s.client.DoStream(rc.Ctx, rc.Method, res.Target.URL(), header, rc.Body, rc.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamCall, err)
	}

	resp.Header = RewriteResponseHeaders(resp.Header, res, s.cors)
	s.countSession(res)
	return resp, nil
}

// Upgrade opens the upstream side of a WebSocket relay. An upstream that
// does not switch protocols yields an *UpgradeError rather than a relayable
// response.
func (s *ProxyService) Upgrade(rc *model.RequestContext, res *Resolution) (*UpstreamSocket, error) {
	header := BuildForwardHeaders(rc, res.Target)

	conn, resp, err := s.client.DialWebSocket(rc.Ctx, res.Target.URL(), header)
	if err != nil {
		var he *client.HandshakeError
		if errors.As(err, &he) {
			if s.metrics != nil {
				s.metrics.UpgradeFailures.Inc()
			}
			return nil, &UpgradeError{StatusCode: he.StatusCode, Status: he.Status}
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamCall, err)
	}

	var upstreamHeader http.Header
	if resp != nil {
		upstreamHeader = resp.Header
	}
	h := HandshakeResponseHeaders(RewriteResponseHeaders(upstreamHeader, res, s.cors))
	if p := conn.Subprotocol(); p != "" {
		h.Set("Sec-Websocket-Protocol", p)
	}

	s.countSession(res)
	return &UpstreamSocket{Conn: conn, Header: h}, nil
}

func (s *ProxyService) countSession(res *Resolution) {
	if res.IssueSession && s.metrics != nil {
		s.metrics.SessionsIssued.Inc()
	}
}
