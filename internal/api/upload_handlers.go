package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"videovault/internal/storage"
)

const (
	maxFormFields = 10
	// maxFieldBytes bounds a single non-file form field.
	maxFieldBytes = 64 << 10
	// multipartOverhead is the body allowance for part headers and fields
	// on top of the per-file cap.
	multipartOverhead = 1 << 20
)

var (
	errNoFile        = errors.New("no file part")
	errTooManyFields = errors.New("too many form fields")
	errBadMultipart  = errors.New("invalid multipart payload")
)

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// Upload stores the first file part of a multipart request. At most
// maxFormFields non-file fields may precede it. Concurrent uploads are
// bounded; excess requests are refused with 503 rather than queued.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.uploadSlots.TryAcquire(1) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, msgUploadsBusy)
		return
	}
	defer h.uploadSlots.Release(1)

	r.Body = http.MaxBytesReader(w, r.Body, h.Store.MaxUploadBytes()+multipartOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		h.requestLogger(r).Warn("upload rejected", "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidMultipart)
		return
	}

	fields := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			h.rejectUpload(w, r, errNoFile)
			return
		}
		if err != nil {
			h.rejectUpload(w, r, err)
			return
		}
		filename := declaredFilename(part)
		if filename == "" {
			fields++
			_, copyErr := io.Copy(io.Discard, io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if fields > maxFormFields {
				h.rejectUpload(w, r, errTooManyFields)
				return
			}
			if copyErr != nil {
				h.rejectUpload(w, r, copyErr)
				return
			}
			continue
		}

		asset, err := h.Store.Ingest(r.Context(), part, part.Header.Get("Content-Type"), filename)
		_ = part.Close()
		if err != nil {
			h.rejectUpload(w, r, err)
			return
		}
		h.warm(asset.Name)
		writeJSON(w, http.StatusOK, uploadResponse{Message: "File uploaded successfully", Filename: asset.Name})
		return
	}
}

func (h *Handler) rejectUpload(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNoFile):
		writeError(w, http.StatusBadRequest, msgNoFile)
	case errors.Is(err, errTooManyFields):
		writeError(w, http.StatusBadRequest, msgTooManyFields)
	case errors.Is(err, storage.ErrPathTraversal):
		h.requestLogger(r).Warn("upload rejected", "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidName)
	default:
		var tooBig *http.MaxBytesError
		if !errors.Is(err, storage.ErrIOFailure) && !errors.As(err, &tooBig) && !isDomainError(err) {
			h.requestLogger(r).Warn("upload rejected", "error", err)
			writeError(w, http.StatusBadRequest, msgInvalidMultipart)
			return
		}
		h.respondError(w, r, err, msgUploadFailed)
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, storage.ErrUnsupportedMediaType) || errors.Is(err, storage.ErrTooLarge)
}

func (h *Handler) warm(name string) {
	if h.Warmer == nil {
		return
	}
	path, err := h.Store.Resolver().ResolveName(name)
	if err != nil {
		return
	}
	h.Warmer.Enqueue(path)
}

// declaredFilename returns the filename parameter exactly as the client sent
// it. multipart.Part.FileName strips directories, which would hide traversal
// attempts from the resolver.
func declaredFilename(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return part.FileName()
	}
	return params["filename"]
}
