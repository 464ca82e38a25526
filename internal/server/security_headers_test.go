package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithSecurity(cfg SecurityConfig, path string) *http.Response {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	handler := securityHeadersMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, req)
	return rec.Result()
}

func TestSecurityHeadersForPages(t *testing.T) {
	t.Parallel()

	res := serveWithSecurity(SecurityConfig{}, "/api/videos")
	assertCommonSecurityHeaders(t, res)
	assertHeaderEquals(t, res, "Content-Security-Policy", defaultPagePolicy)
	assertHeaderEquals(t, res, "Cross-Origin-Resource-Policy", "")
}

func TestSecurityHeadersSandboxStoredContent(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/videos/clip.mp4", "/api/download/clip.mp4"} {
		res := serveWithSecurity(SecurityConfig{}, path)
		assertCommonSecurityHeaders(t, res)
		assertHeaderEquals(t, res, "Content-Security-Policy", storedContentPolicy)
		assertHeaderEquals(t, res, "Cross-Origin-Resource-Policy", defaultMediaResourcePolicy)
	}

	res := serveWithSecurity(SecurityConfig{PagePolicy: "default-src *"}, "/videos/clip.mp4")
	assertHeaderEquals(t, res, "Content-Security-Policy", storedContentPolicy)
}

func TestSecurityHeadersCanBeOverridden(t *testing.T) {
	t.Parallel()

	cfg := SecurityConfig{
		PagePolicy:          "default-src 'self' https://cdn.example.com",
		MediaResourcePolicy: "same-site",
		FrameOptions:        "SAMEORIGIN",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		PermissionsPolicy:   "geolocation=(self)",
	}
	page := serveWithSecurity(cfg, "/")
	assertHeaderEquals(t, page, "Content-Security-Policy", cfg.PagePolicy)
	assertHeaderEquals(t, page, "X-Frame-Options", cfg.FrameOptions)
	assertHeaderEquals(t, page, "Referrer-Policy", cfg.ReferrerPolicy)
	assertHeaderEquals(t, page, "Permissions-Policy", cfg.PermissionsPolicy)

	media := serveWithSecurity(cfg, "/videos/clip.mp4")
	assertHeaderEquals(t, media, "Cross-Origin-Resource-Policy", "same-site")
}

func TestServerAppliesSecurityHeadersToPagesAndAssets(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	for _, path := range []string{"/", "/healthz", "/api/videos", "/videos/missing.mp4"} {
		resp := doRequest(t, http.MethodGet, ts.URL+path, nil, "")
		assertCommonSecurityHeaders(t, resp)
	}
}

func assertCommonSecurityHeaders(t *testing.T, res *http.Response) {
	t.Helper()
	assertHeaderEquals(t, res, "X-Content-Type-Options", "nosniff")
	assertHeaderEquals(t, res, "X-Frame-Options", defaultFrameOptions)
	assertHeaderEquals(t, res, "Referrer-Policy", defaultReferrerPolicy)
	assertHeaderEquals(t, res, "Permissions-Policy", defaultPermissionsPolicy)
}

func assertHeaderEquals(t *testing.T, res *http.Response, key, expected string) {
	t.Helper()
	if got := res.Header.Get(key); got != expected {
		t.Fatalf("expected %s=%q, got %q", key, expected, got)
	}
}
