package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"edge-proxy/internal/config"
	"edge-proxy/internal/service"
)

func TestLandingHandler_Form(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewLandingHandler(testConfig())
	if err := h.Form(c); err != nil {
		t.Fatalf("Form() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), `id="urlInput"`) {
		t.Error("form page missing the target input")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", rec.Header().Get("X-Frame-Options"))
	}

	cleared := findSetCookie(rec, service.SessionCookieName)
	if cleared == nil {
		t.Fatal("form response should clear the session cookie")
	}
	if cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Errorf("session cookie = %+v, want an expired empty cookie", cleared)
	}
}

func TestLandingHandler_Favicon(t *testing.T) {
	cfg := testConfig()
	cfg.Landing.FaviconURL = "https://cdn.example.com/icon.png"

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := NewLandingHandler(cfg).Favicon(c); err != nil {
		t.Fatalf("Favicon() error = %v", err)
	}
	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "https://cdn.example.com/icon.png" {
		t.Errorf("Location = %q", loc)
	}
}

func TestLandingHandler_Preflight(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodOptions, "/example.com/api", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := NewLandingHandler(&config.Config{}).Preflight(c); err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}

	tests := []struct {
		key  string
		want string
	}{
		{"Access-Control-Allow-Origin", "*"},
		{"Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS"},
		{"Access-Control-Max-Age", "86400"},
	}
	for _, tt := range tests {
		if got := rec.Header().Get(tt.key); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}

	allow := rec.Header().Get("Access-Control-Allow-Headers")
	for _, want := range []string{"Authorization", "Cookie", "X-Api-Key", "Upgrade", "Sec-WebSocket-Key", "Sec-WebSocket-Protocol"} {
		if !strings.Contains(allow, want) {
			t.Errorf("Access-Control-Allow-Headers %q missing %q", allow, want)
		}
	}
}

func TestLandingHandler_Root(t *testing.T) {
	h := NewLandingHandler(testConfig())

	tests := []struct {
		method     string
		wantStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusOK},
		{http.MethodOptions, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, "/", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Root(c); err != nil {
				t.Fatalf("Root() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
