package api

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"videovault/internal/observability/logging"
	"videovault/internal/storage"
)

const (
	videoRoutePrefix    = "/api/video/"
	downloadRoutePrefix = "/api/download/"
)

// sniffLen is how much of a file is read to detect its content type.
const sniffLen = 3072

// rawName returns the still percent-encoded filename following prefix.
func rawName(r *http.Request, prefix string) string {
	return strings.TrimPrefix(r.URL.EscapedPath(), prefix)
}

// ListVideos returns the catalog as a JSON array.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Store.List(r.Context())
	if err != nil {
		h.respondError(w, r, err, msgListFailed)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// DeleteVideo removes one asset.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Delete(r.Context(), rawName(r, videoRoutePrefix)); err != nil {
		h.respondError(w, r, err, msgDeleteFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

// Download streams one asset as an attachment. Range requests are honoured.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveAsset(w, r, rawName(r, downloadRoutePrefix), true)
}

// ServeVideo streams one asset inline for playback.
func (h *Handler) ServeVideo(w http.ResponseWriter, r *http.Request) {
	h.serveAsset(w, r, rawName(r, storage.PublicPrefix), false)
}

func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request, raw string, attachment bool) {
	file, info, err := h.Store.Open(raw)
	if err != nil {
		h.respondError(w, r, err, msgDownloadFailed)
		return
	}
	defer file.Close()

	ctx := logging.ContextWithAsset(r.Context(), info.Name())
	r = r.WithContext(ctx)

	contentType, err := detectContentType(file)
	if err != nil {
		h.respondError(w, r, storageReadError(err), msgDownloadFailed)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if attachment {
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()})
		if disposition == "" {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", disposition)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// detectContentType sniffs the head of file and rewinds it.
func detectContentType(file io.ReadSeeker) (string, error) {
	detected, err := mimetype.DetectReader(io.LimitReader(file, sniffLen))
	if err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return detected.String(), nil
}

func storageReadError(err error) error {
	return &storage.IOError{Op: "read", Err: err}
}
