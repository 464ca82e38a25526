package api

import (
	"errors"
	"log/slog"
	"net/http"

	"videovault/internal/storage"
	"videovault/internal/transfer"
)

const (
	msgListFailed        = "Failed to retrieve video list"
	msgNoFile            = "No file uploaded"
	msgInvalidType       = "Invalid file type. Only MP4, MOV, AVI, MKV allowed."
	msgInvalidName       = "Invalid file name"
	msgTooManyFields     = "Too many form fields"
	msgInvalidMultipart  = "Invalid multipart payload"
	msgTooLarge          = "File too large"
	msgUploadsBusy       = "Too many concurrent uploads"
	msgUploadFailed      = "Upload failed"
	msgInvalidPath       = "Invalid file path"
	msgNotFound          = "File not found"
	msgDeleteFailed      = "Delete failed"
	msgDownloadFailed    = "Download failed"
	msgInvalidVideoPath  = "Invalid video path"
	msgInvalidBody       = "Invalid request body"
	msgTransferFailed    = "FPGA transfer failed"
	msgInvalidLimit      = "Invalid limit"
	msgTransfersFailed   = "Failed to retrieve transfers"
	msgTransfersDisabled = "Transfers are not configured"
)

// statusFor maps a domain error to its HTTP status and the fixed message
// reported to clients. fallback is used for failures the client cannot fix.
func statusFor(err error, fallback string) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrPathTraversal):
		return http.StatusBadRequest, msgInvalidPath
	case errors.Is(err, storage.ErrUnsupportedMediaType):
		return http.StatusBadRequest, msgInvalidType
	case errors.Is(err, transfer.ErrInvalidReference):
		return http.StatusBadRequest, msgInvalidVideoPath
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, transfer.ErrTransferFailed):
		return http.StatusBadGateway, msgTransferFailed
	default:
		return http.StatusInternalServerError, fallback
	}
}

// respondError logs err and writes the mapped status. Client errors are
// logged at warn, everything else at error.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, message := statusFor(err, fallback)
	logger := h.requestLogger(r)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "request failed", "status", status, "error", err)
	writeError(w, status, message)
}
