package service

import (
	"net/http"

	"edge-proxy/internal/model"
)

// credentialHeaders carry caller-supplied upstream credentials and are
// forwarded on every request.
var credentialHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
}

// upgradeHeaders are forwarded only on WebSocket upgrade requests.
var upgradeHeaders = []string{
	"Connection",
	"Upgrade",
	"Sec-WebSocket-Key",
	"Sec-WebSocket-Version",
	"Sec-WebSocket-Protocol",
	"Sec-WebSocket-Extensions",
}

// browserDefaults fill in browser-identifying headers the caller left out.
var browserDefaults = []struct {
	key, value string
}{
	{"User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"},
	{"Accept", "text/html,application/xhtml+xml,*/*;q=0.8"},
	{"Accept-Language", "en-US,en;q=0.9"},
	{"Accept-Encoding", "gzip, deflate, br"},
}

// BuildForwardHeaders returns the allow-listed header set sent upstream.
// No inbound header outside the lists above reaches the upstream. The
// returned set always carries Host, which the dispatcher moves onto the
// request host.
func BuildForwardHeaders(rc *model.RequestContext, target *model.TargetReference) http.Header {
	dst := make(http.Header)
	copyHeaders(dst, rc.Header, credentialHeaders)

	origin := "https://" + target.Host
	if rc.IsUpgrade {
		copyHeaders(dst, rc.Header, upgradeHeaders)
		dst.Set("Origin", origin)
	} else {
		for _, d := range browserDefaults {
			if v := rc.Header.Get(d.key); v != "" {
				dst.Set(d.key, v)
			} else {
				dst.Set(d.key, d.value)
			}
		}
		dst.Set("Connection", "keep-alive")
		dst.Set("Origin", origin+"/")
		dst.Set("Referer", origin+"/")
		dst.Set("Sec-Fetch-Dest", "empty")
		dst.Set("Sec-Fetch-Mode", "cors")
		dst.Set("Sec-Fetch-Site", "cross-site")
	}

	dst.Set("Host", target.Host)
	return dst
}

func copyHeaders(dst, src http.Header, keys []string) {
	for _, key := range keys {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
	}
}
