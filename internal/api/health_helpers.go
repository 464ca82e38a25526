package api

import (
	"net/http"
	"os"
)

// Health reports liveness. The storage root must still be a directory.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	info, err := os.Stat(h.Store.Root())
	if err != nil || !info.IsDir() {
		h.requestLogger(r).Error("storage root unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
