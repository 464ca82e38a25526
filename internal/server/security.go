package server

import (
	"net/http"
	"strings"
)

const (
	defaultFrameOptions        = "DENY"
	defaultReferrerPolicy      = "no-referrer"
	defaultPermissionsPolicy   = "camera=(), microphone=(), geolocation=(), display-capture=()"
	defaultMediaResourcePolicy = "cross-origin"

	// defaultPagePolicy covers the landing and docs pages, which play stored
	// videos through <video> elements and call the JSON API.
	defaultPagePolicy = "default-src 'self'; " +
		"connect-src 'self'; " +
		"img-src 'self' data:; " +
		"media-src 'self' blob:; " +
		"script-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"object-src 'none'; " +
		"base-uri 'self'; " +
		"frame-ancestors 'none'; " +
		"form-action 'self'"

	// storedContentPolicy is sent with uploaded bytes. A document uploaded
	// under a video extension must not run script in this origin.
	storedContentPolicy = "default-src 'none'; media-src 'self'; sandbox"
)

// storedContentPrefixes are the routes that return uploaded files.
var storedContentPrefixes = []string{"/videos/", "/api/download/"}

// SecurityConfig controls the hardening response headers. Zero-valued fields
// fall back to the defaults.
type SecurityConfig struct {
	// PagePolicy is the Content-Security-Policy of pages and API responses.
	// Stored files always get a sandboxed policy.
	PagePolicy string
	// MediaResourcePolicy is the Cross-Origin-Resource-Policy of stored
	// files. The default lets other sites embed the videos.
	MediaResourcePolicy string
	FrameOptions        string
	ReferrerPolicy      string
	PermissionsPolicy   string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	cfg.PagePolicy = valueOr(cfg.PagePolicy, defaultPagePolicy)
	cfg.MediaResourcePolicy = valueOr(cfg.MediaResourcePolicy, defaultMediaResourcePolicy)
	cfg.FrameOptions = valueOr(cfg.FrameOptions, defaultFrameOptions)
	cfg.ReferrerPolicy = valueOr(cfg.ReferrerPolicy, defaultReferrerPolicy)
	cfg.PermissionsPolicy = valueOr(cfg.PermissionsPolicy, defaultPermissionsPolicy)
	return cfg
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func servesStoredContent(path string) bool {
	for _, prefix := range storedContentPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", effective.FrameOptions)
		header.Set("Referrer-Policy", effective.ReferrerPolicy)
		header.Set("Permissions-Policy", effective.PermissionsPolicy)
		if servesStoredContent(r.URL.Path) {
			header.Set("Content-Security-Policy", storedContentPolicy)
			header.Set("Cross-Origin-Resource-Policy", effective.MediaResourcePolicy)
		} else {
			header.Set("Content-Security-Policy", effective.PagePolicy)
		}

		next.ServeHTTP(w, r)
	})
}
