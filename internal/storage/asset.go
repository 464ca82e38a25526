package storage

import (
	"mime"
	"net/url"
	"path/filepath"
	"strings"
)

// PublicPrefix is the URL prefix under which assets are served.
const PublicPrefix = "/videos/"

// Asset describes one stored video file as exposed to clients.
type Asset struct {
	Name       string `json:"name"`
	SizeBytes  int64  `json:"size"`
	Duration   string `json:"duration"`
	AccessPath string `json:"path"`
}

// AccessPath returns the public URL path of the asset called name.
func AccessPath(name string) string {
	return PublicPrefix + url.PathEscape(name)
}

// MediaType is a video content type accepted for upload.
type MediaType string

const (
	MediaTypeMP4       MediaType = "video/mp4"
	MediaTypeQuickTime MediaType = "video/quicktime"
	MediaTypeAVI       MediaType = "video/x-msvideo"
	MediaTypeMatroska  MediaType = "video/x-matroska"
)

var supportedMediaTypes = map[MediaType]struct{}{
	MediaTypeMP4:       {},
	MediaTypeQuickTime: {},
	MediaTypeAVI:       {},
	MediaTypeMatroska:  {},
}

// ParseMediaType normalizes a declared Content-Type and reports whether it is
// one of the supported video types. Parameters such as codecs are ignored.
func ParseMediaType(declared string) (MediaType, bool) {
	trimmed := strings.TrimSpace(declared)
	if trimmed == "" {
		return "", false
	}
	base, _, err := mime.ParseMediaType(trimmed)
	if err != nil {
		return "", false
	}
	mt := MediaType(strings.ToLower(base))
	_, ok := supportedMediaTypes[mt]
	return mt, ok
}

var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mov": {},
	".avi": {},
	".mkv": {},
}

// IsVideoName reports whether name carries one of the catalogued extensions,
// compared case-insensitively.
func IsVideoName(name string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
