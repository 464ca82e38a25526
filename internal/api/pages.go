package api

import (
	"bytes"
	"net/http"
)

// Index renders the landing page.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "index.html")
}

// Docs renders the API reference page.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "docs.html")
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, name string) {
	var buf bytes.Buffer
	if err := h.pages.ExecuteTemplate(&buf, name, h.page); err != nil {
		h.requestLogger(r).Error("render page failed", "page", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
