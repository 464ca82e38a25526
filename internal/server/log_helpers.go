package server

import (
	"log/slog"
	"net/http"
	"strings"

	"videovault/internal/observability/logging"
)

// assetPrefixes are the routes whose final segment names a stored file.
var assetPrefixes = []string{"/api/video/", "/api/download/", "/videos/"}

// requestLogFields are the attributes shared by the access log, the audit
// log and middleware failures.
func requestLogFields(r *http.Request, resolver *clientIPResolver) []any {
	ip, source := resolveClientIP(r, resolver)
	fields := []any{"remote_ip", ip, "ip_source", source}
	if ref, ok := assetReference(r); ok {
		fields = append(fields, "asset_ref", ref)
	}
	return fields
}

// assetReference returns the file name of an asset route exactly as the
// client sent it, still escaped. Whether it is valid is the resolver's call.
func assetReference(r *http.Request) (string, bool) {
	escaped := r.URL.EscapedPath()
	for _, prefix := range assetPrefixes {
		if ref, ok := strings.CutPrefix(escaped, prefix); ok && ref != "" {
			return ref, true
		}
	}
	return "", false
}

// requestLogger prefers the logger stored by the request ID middleware.
func requestLogger(base *slog.Logger, resolver *clientIPResolver, r *http.Request) *slog.Logger {
	logger := logging.LoggerFromContext(r.Context())
	if logger == nil {
		if base == nil {
			return nil
		}
		logger = logging.WithContext(r.Context(), base)
	}
	return logger.With(append([]any{"path", r.URL.Path}, requestLogFields(r, resolver)...)...)
}
