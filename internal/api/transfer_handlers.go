package api

import (
	"net/http"
	"strconv"
	"strings"

	"videovault/internal/transfer"
)

const (
	defaultTransferListLimit = 50
	maxTransferListLimit     = transfer.DefaultLedgerCapacity
)

type transferRequest struct {
	VideoPath string `json:"videoPath"`
}

type transferResponse struct {
	Message   string `json:"message"`
	VideoPath string `json:"videoPath"`
	Status    string `json:"status"`
	ID        string `json:"id"`
}

// Transfer hands a stored asset to the processing pipeline.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	if h.Transfers == nil {
		writeError(w, http.StatusServiceUnavailable, msgTransfersDisabled)
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.requestLogger(r).Warn("transfer request rejected", "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	record, err := h.Transfers.Transfer(r.Context(), req.VideoPath)
	if err != nil {
		h.respondError(w, r, err, msgTransferFailed)
		return
	}
	message := "Video transferred to FPGA successfully"
	if record.Status == transfer.StatusQueued {
		message = "Video transfer to FPGA queued"
	}
	writeJSON(w, http.StatusOK, transferResponse{
		Message:   message,
		VideoPath: req.VideoPath,
		Status:    record.Status,
		ID:        record.ID,
	})
}

// ListTransfers lists recent transfer records, newest first.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	if h.Transfers == nil {
		writeJSON(w, http.StatusOK, []transfer.Record{})
		return
	}
	limit := defaultTransferListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, msgInvalidLimit)
			return
		}
		limit = parsed
	}
	if limit > maxTransferListLimit {
		limit = maxTransferListLimit
	}
	records, err := h.Transfers.Recent(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err, msgTransfersFailed)
		return
	}
	if records == nil {
		records = []transfer.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
