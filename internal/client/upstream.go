// Package client provides the upstream HTTP and WebSocket dispatcher.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"edge-proxy/internal/config"
	"edge-proxy/internal/metrics"
	"edge-proxy/internal/model"
)

// handshakeManaged are generated by the WebSocket dialer itself and rejected
// when supplied by the caller.
var handshakeManaged = []string{
	"Connection",
	"Upgrade",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
}

// ErrHandshake reports an upgrade the upstream answered without switching protocols.
var ErrHandshake = errors.New("upstream refused websocket handshake")

// HandshakeError carries the upstream response to a refused upgrade.
type HandshakeError struct {
	StatusCode int
	Status     string
	Header     http.Header
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHandshake, e.Status)
}

func (e *HandshakeError) Unwrap() error { return ErrHandshake }

// UpstreamClient sends requests to arbitrary upstream origins.
type UpstreamClient struct {
	httpClient *http.Client
	wsDialer   *websocket.Dialer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return newUpstreamClient(cfg, logger, m, http.ProxyFromEnvironment, dialer.DialContext, nil)
}

// NewUpstreamClientForTest creates an UpstreamClient that dials addr for every
// upstream host and skips certificate verification.
// This is intended only for tests that use httptest TLS servers.
func NewUpstreamClientForTest(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, addr string) *UpstreamClient {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	dial := func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	return newUpstreamClient(cfg, logger, m, nil, dial, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // test servers use self-signed certs
}

type (
	proxyFunc func(*http.Request) (*url.URL, error)
	dialFunc  func(ctx context.Context, network, addr string) (net.Conn, error)
)

func newUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, proxy proxyFunc, dial dialFunc, tlsCfg *tls.Config) *UpstreamClient {
	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dial,
		TLSClientConfig:       tlsCfg,
		ForceAttemptHTTP2:     tlsCfg == nil,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	httpClient := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects > 0 && len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	wsDialer := &websocket.Dialer{
		Proxy:            proxy,
		NetDialContext:   dial,
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: time.Duration(cfg.Upstream.HandshakeTimeoutSeconds) * time.Second,
	}

	return &UpstreamClient{
		httpClient: httpClient,
		wsDialer:   wsDialer,
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// Redirects are followed transparently. The caller is responsible for closing
// the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method, "http").Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method, "http").Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream builds and executes a request whose body is streamed from body
// without buffering. A Host entry in header becomes the request host.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *UpstreamClient) DoStream(ctx context.Context, method, target string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	if contentLength == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	if body != http.NoBody {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}

// DialWebSocket opens a WebSocket connection to target. Headers the dialer
// generates itself are dropped from header; Host becomes the request host.
// A refused upgrade yields a *HandshakeError.
func (c *UpstreamClient) DialWebSocket(ctx context.Context, target string, header http.Header) (*websocket.Conn, *http.Response, error) {
	h := header.Clone()
	for _, key := range handshakeManaged {
		h.Del(key)
	}

	c.logger.Debug("upstream websocket dial", "url", target)

	start := time.Now()
	conn, resp, err := c.wsDialer.DialContext(ctx, target, h)
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(http.MethodGet, "websocket").Observe(duration)
		if resp != nil {
			c.metrics.UpstreamResponses.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()
		}
	}

	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, nil, &HandshakeError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Header:     resp.Header,
			}
		}
		return nil, nil, fmt.Errorf("upstream websocket dial: %w", err)
	}

	return conn, resp, nil
}
