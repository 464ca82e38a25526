package api

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"videovault/internal/observability/logging"
	"videovault/internal/observability/metrics"
	"videovault/internal/storage"
	"videovault/internal/transfer"
	"videovault/web"
)

// DefaultMaxConcurrentUploads bounds in-flight uploads when no limit is configured.
const DefaultMaxConcurrentUploads = 8

// Enqueuer accepts freshly stored files for background duration probing.
type Enqueuer interface {
	Enqueue(path string) bool
}

type Config struct {
	Store                *storage.Store
	Transfers            *transfer.Service
	Warmer               Enqueuer
	Logger               *slog.Logger
	Metrics              *metrics.Recorder
	MaxConcurrentUploads int
}

type Handler struct {
	Store     *storage.Store
	Transfers *transfer.Service
	Warmer    Enqueuer

	logger      *slog.Logger
	metrics     *metrics.Recorder
	uploadSlots *semaphore.Weighted
	pages       *template.Template
	page        web.PageData
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("api handler requires a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	slots := cfg.MaxConcurrentUploads
	if slots <= 0 {
		slots = DefaultMaxConcurrentUploads
	}
	pages, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("load page templates: %w", err)
	}
	driver := "disabled"
	if cfg.Transfers != nil {
		driver = cfg.Transfers.Driver()
	}
	return &Handler{
		Store:       cfg.Store,
		Transfers:   cfg.Transfers,
		Warmer:      cfg.Warmer,
		logger:      logger,
		metrics:     recorder,
		uploadSlots: semaphore.NewWeighted(int64(slots)),
		pages:       pages,
		page: web.PageData{
			Title:          "Video Vault",
			Endpoints:      endpoints,
			MaxUploadSize:  humanize.IBytes(uint64(cfg.Store.MaxUploadBytes())),
			TransferDriver: driver,
		},
	}, nil
}

var endpoints = []web.Endpoint{
	{Method: http.MethodGet, Path: "/api/videos", Description: "List videos"},
	{Method: http.MethodPost, Path: "/api/upload", Description: "Upload a video file"},
	{Method: http.MethodDelete, Path: "/api/video/{filename}", Description: "Delete a video file"},
	{Method: http.MethodGet, Path: "/api/download/{filename}", Description: "Download a video file"},
	{Method: http.MethodPost, Path: "/api/fpga-transfer", Description: "Transfer a video to the processing pipeline"},
	{Method: http.MethodGet, Path: "/api/transfers", Description: "List recent transfers"},
	{Method: http.MethodGet, Path: "/videos/{filename}", Description: "Stream a video file"},
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), h.logger)
}
