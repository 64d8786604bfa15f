// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Upstream schemes.
const (
	SchemeHTTPS = "https"
	SchemeWSS   = "wss"
)

// RequestContext is the inbound request as seen by the resolver and header policy.
type RequestContext struct {
	Ctx           context.Context
	Method        string
	Path          string // escaped path with the leading slash stripped
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	IsUpgrade     bool
}

// NewRequestContext builds a RequestContext from an inbound request.
func NewRequestContext(r *http.Request) *RequestContext {
	return &RequestContext{
		Ctx:           r.Context(),
		Method:        r.Method,
		Path:          strings.TrimPrefix(r.URL.EscapedPath(), "/"),
		RawQuery:      r.URL.RawQuery,
		Header:        r.Header,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		IsUpgrade:     IsUpgrade(r.Header),
	}
}

// IsUpgrade reports whether the headers ask for a WebSocket protocol switch.
func IsUpgrade(h http.Header) bool {
	if !strings.EqualFold(strings.TrimSpace(h.Get("Upgrade")), "websocket") {
		return false
	}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}

// TargetReference describes the upstream resource a request maps to.
type TargetReference struct {
	Scheme   string
	Host     string // bare hostname
	Port     string // only set when a direct hit named one
	Path     string
	RawQuery string
}

// Authority returns host[:port] for dialing.
func (t *TargetReference) Authority() string {
	if t.Port == "" {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return net.JoinHostPort(t.Host, t.Port)
}

// URL renders the upstream URL.
func (t *TargetReference) URL() string {
	u := url.URL{
		Scheme:   t.Scheme,
		Host:     t.Authority(),
		RawQuery: t.RawQuery,
	}
	path := t.Path
	if path == "" {
		path = "/"
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		u.Path = unescaped
		u.RawPath = path
	} else {
		u.Path = path
	}
	return u.String()
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
