package service

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"edge-proxy/internal/model"
)

// SessionCookieName is the cookie that remembers the upstream host.
const SessionCookieName = "proxied_domain"

// schemePrefix matches a pasted URL scheme. Some clients collapse "//" in
// paths, so a single slash is accepted too.
var schemePrefix = regexp.MustCompile(`(?i)^(?:https?|wss?):/{1,2}`)

// hostLabel is a single ASCII DNS label after IDNA mapping.
var hostLabel = regexp.MustCompile(`^[a-z0-9_-]{1,63}$`)

// hostProfile maps internationalized names to their ASCII form. Underscores
// are allowed since real-world hostnames carry them.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.StrictDomainName(false),
	idna.VerifyDNSLength(true),
)

// Resolution is the outcome of target resolution for one request.
type Resolution struct {
	// Bootstrap is set for an empty path: serve the landing page, clear the
	// session cookie and make no upstream call.
	Bootstrap bool

	Target *model.TargetReference

	// IssueSession asks the response rewriter to append a session cookie for Target.Host.
	IssueSession bool
}

// Resolve maps an inbound request to its upstream target.
//
// A present session cookie always wins: the path is then relative to the
// cookie host, even when it looks like host/path itself. Only a request
// without a cookie establishes a new target.
func Resolve(rc *model.RequestContext) (*Resolution, error) {
	if rc.Path == "" {
		return &Resolution{Bootstrap: true}, nil
	}

	path := schemePrefix.ReplaceAllLiteralString(rc.Path, "")

	scheme := model.SchemeHTTPS
	if rc.IsUpgrade {
		scheme = model.SchemeWSS
	}

	if value, ok := SessionHost(rc.Header); ok {
		host, err := NormalizeHostname(value)
		if err != nil {
			return nil, &TargetError{Source: SourceCookie, Value: value, Err: err}
		}
		return &Resolution{
			Target: &model.TargetReference{
				Scheme:   scheme,
				Host:     host,
				Path:     "/" + path,
				RawQuery: rc.RawQuery,
			},
		}, nil
	}

	authority, rest, _ := strings.Cut(path, "/")
	host, port, err := parseAuthority(authority)
	if err != nil {
		return nil, &TargetError{Source: SourcePath, Value: authority, Err: err}
	}

	return &Resolution{
		Target: &model.TargetReference{
			Scheme:   scheme,
			Host:     host,
			Port:     port,
			Path:     "/" + rest,
			RawQuery: rc.RawQuery,
		},
		IssueSession: true,
	}, nil
}

// SessionHost returns the non-empty session cookie value, if any.
func SessionHost(h http.Header) (string, bool) {
	req := http.Request{Header: h}
	c, err := req.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// parseAuthority splits an escaped [userinfo@]host[:port] into a validated
// hostname and optional port.
func parseAuthority(escaped string) (host, port string, err error) {
	if escaped == "" {
		return "", "", fmt.Errorf("empty host")
	}
	authority, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", err
	}

	u, err := url.Parse("https://" + authority)
	if err != nil {
		return "", "", err
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", "", fmt.Errorf("unexpected characters after host")
	}

	host, err = NormalizeHostname(u.Hostname())
	if err != nil {
		return "", "", err
	}

	port = u.Port()
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", "", fmt.Errorf("invalid port %q", port)
		}
		if n == 443 {
			port = ""
		}
	}
	return host, port, nil
}

// NormalizeHostname validates a bare hostname or IP literal and returns its
// lower-case ASCII form, suitable for building https://<host>.
func NormalizeHostname(h string) (string, error) {
	h = strings.TrimSuffix(h, ".")
	if h == "" {
		return "", fmt.Errorf("empty host")
	}
	if ip := net.ParseIP(strings.Trim(h, "[]")); ip != nil {
		return ip.String(), nil
	}

	ascii, err := hostProfile.ToASCII(h)
	if err != nil {
		return "", err
	}
	for _, label := range strings.Split(ascii, ".") {
		if !hostLabel.MatchString(label) {
			return "", fmt.Errorf("invalid host label %q", label)
		}
	}
	return ascii, nil
}
