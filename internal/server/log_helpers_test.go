package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogFieldsIncludeEscapedAssetReference(t *testing.T) {
	resolver, err := newClientIPResolver(false, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/video/my%20clip.mp4", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	fields := requestLogFields(req, resolver)
	got := map[string]any{}
	for i := 0; i+1 < len(fields); i += 2 {
		got[fields[i].(string)] = fields[i+1]
	}
	if got["remote_ip"] != "203.0.113.9" {
		t.Fatalf("expected remote ip, got %v", got["remote_ip"])
	}
	if got["asset_ref"] != "my%20clip.mp4" {
		t.Fatalf("expected escaped asset reference, got %v", got["asset_ref"])
	}

	for _, path := range []string{"/api/videos", "/videos/", "/healthz"} {
		if ref, ok := assetReference(httptest.NewRequest(http.MethodGet, path, nil)); ok {
			t.Fatalf("did not expect asset reference for %s, got %q", path, ref)
		}
	}
}
