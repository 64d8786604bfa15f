package service

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are connection-scoped and never relayed to the client.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handshakeHeaders are produced by the WebSocket upgrader for the client-side
// handshake and must not be supplied twice.
var handshakeHeaders = []string{
	"Sec-Websocket-Accept",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Protocol",
	"Content-Length",
}

// CORSPolicy controls the CORS annotations on proxied responses.
type CORSPolicy struct {
	ExposeAll bool
}

// ExposeHeaders returns the Access-Control-Expose-Headers value.
func (p CORSPolicy) ExposeHeaders() string {
	if p.ExposeAll {
		return "Set-Cookie, *"
	}
	return "Set-Cookie"
}

// SessionCookie returns the cookie that pins later relative requests to host.
func SessionCookie(host string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    host,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearSessionCookie returns the cookie that drops a remembered host.
func ClearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:   SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}
}

// RewriteResponseHeaders builds the client-facing header set from the
// upstream's. Each upstream Set-Cookie stays a separate header line and the
// session cookie, when res asks for one, is appended after them.
func RewriteResponseHeaders(upstream http.Header, res *Resolution, cors CORSPolicy) http.Header {
	dst := make(http.Header, len(upstream)+3)
	for key, vals := range upstream {
		if isHopByHop(key, upstream) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}

	if res != nil && res.IssueSession && res.Target != nil {
		dst.Add("Set-Cookie", SessionCookie(res.Target.Host).String())
	}

	dst.Set("Access-Control-Allow-Origin", "*")
	dst.Set("Access-Control-Expose-Headers", cors.ExposeHeaders())
	return dst
}

// HandshakeResponseHeaders trims a rewritten header set to what may
// accompany the 101 response sent to the client.
func HandshakeResponseHeaders(h http.Header) http.Header {
	dst := h.Clone()
	for _, key := range handshakeHeaders {
		dst.Del(key)
	}
	return dst
}

// isHopByHop reports whether key is a hop-by-hop header, including any named
// by the upstream's Connection header.
func isHopByHop(key string, h http.Header) bool {
	canonical := http.CanonicalHeaderKey(key)
	for _, hop := range hopByHopHeaders {
		if canonical == hop {
			return true
		}
	}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if http.CanonicalHeaderKey(strings.TrimSpace(tok)) == canonical {
				return true
			}
		}
	}
	return false
}
