package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"videovault/internal/observability/metrics"
	"videovault/internal/probe"
	"videovault/internal/storage"
	"videovault/internal/transfer"
)

type recordingWarmer struct {
	mu    sync.Mutex
	paths []string
}

func (w *recordingWarmer) Enqueue(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths = append(w.paths, path)
	return true
}

func (w *recordingWarmer) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

type testEnv struct {
	handler  *Handler
	store    *storage.Store
	warmer   *recordingWarmer
	prober   *probe.Static
	recorder *metrics.Recorder
}

type envOptions struct {
	maxUpload   int64
	transporter transfer.AssetTransporter
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.New()
	prober := &probe.Static{Fallback: "00:01:05"}
	store, err := storage.New(storage.Config{
		Root:           filepath.Join(t.TempDir(), "videos"),
		MaxUploadBytes: opts.maxUpload,
		Prober:         prober,
		Logger:         logger,
		Metrics:        recorder,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	warmer := &recordingWarmer{}
	cfg := Config{Store: store, Warmer: warmer, Logger: logger, Metrics: recorder}
	if opts.transporter != nil {
		service, err := transfer.NewService(transfer.ServiceConfig{
			Driver:      "test",
			Transporter: opts.transporter,
			Locator:     store,
			Logger:      logger,
			Metrics:     recorder,
		})
		if err != nil {
			t.Fatalf("new transfer service: %v", err)
		}
		cfg.Transfers = service
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &testEnv{handler: handler, store: store, warmer: warmer, prober: prober, recorder: recorder}
}

func (e *testEnv) writeAsset(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(e.store.Root(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != message {
		t.Fatalf("expected error %q, got %q", message, body["error"])
	}
}

type formPart struct {
	field       string
	filename    string
	contentType string
	body        string
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, part := range parts {
		header := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name=%q`, part.field)
		if part.filename != "" {
			disposition += fmt.Sprintf(`; filename=%q`, part.filename)
		}
		header.Set("Content-Disposition", disposition)
		if part.contentType != "" {
			header.Set("Content-Type", part.contentType)
		}
		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func uploadRequest(t *testing.T, parts ...formPart) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func TestNewHandlerRequiresStore(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Fatalf("expected missing store to be rejected")
	}
}

func TestListVideosReturnsCatalog(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.writeAsset(t, "b clip.mkv", "bbbb")
	env.writeAsset(t, "a.mp4", "aa")
	env.writeAsset(t, "notes.txt", "ignored")

	rec := httptest.NewRecorder()
	env.handler.ListVideos(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var assets []storage.Asset
	decodeBody(t, rec, &assets)
	if len(assets) != 2 {
		t.Fatalf("expected two videos, got %+v", assets)
	}
	if assets[0].Name != "a.mp4" || assets[0].SizeBytes != 2 || assets[0].AccessPath != "/videos/a.mp4" {
		t.Fatalf("unexpected first asset %+v", assets[0])
	}
	if assets[1].AccessPath != "/videos/b%20clip.mkv" || assets[1].Duration != "00:01:05" {
		t.Fatalf("unexpected second asset %+v", assets[1])
	}
}

func TestListVideosEmptyCatalogIsArray(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := httptest.NewRecorder()
	env.handler.ListVideos(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}
}

func TestListVideosFailsWhenRootMissing(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if err := os.RemoveAll(env.store.Root()); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	rec := httptest.NewRecorder()
	env.handler.ListVideos(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	expectError(t, rec, http.StatusInternalServerError, msgListFailed)
	if strings.Contains(rec.Body.String(), env.store.Root()) {
		t.Fatalf("error body must not leak paths: %s", rec.Body.String())
	}
}

func TestUploadStoresFile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	req := uploadRequest(t,
		formPart{field: "title", body: "holiday"},
		formPart{field: "video", filename: "holiday clip.mp4", contentType: "video/mp4", body: "movie-bytes"},
	)
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	decodeBody(t, rec, &resp)
	if resp.Message != "File uploaded successfully" || resp.Filename != "holiday clip.mp4" {
		t.Fatalf("unexpected response %+v", resp)
	}
	data, err := os.ReadFile(filepath.Join(env.store.Root(), "holiday clip.mp4"))
	if err != nil || string(data) != "movie-bytes" {
		t.Fatalf("unexpected stored file %q err=%v", data, err)
	}
	paths := env.warmer.Paths()
	if len(paths) != 1 || paths[0] != filepath.Join(env.store.Root(), "holiday clip.mp4") {
		t.Fatalf("expected warmer to receive the stored file, got %v", paths)
	}
	if _, total := env.recorder.UploadCounts(); total != uint64(len("movie-bytes")) {
		t.Fatalf("expected upload bytes to be recorded, got %d", total)
	}
}

func TestUploadAcceptsContentTypeParameters(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	req := uploadRequest(t, formPart{field: "video", filename: "clip.mkv", contentType: "Video/X-Matroska; codecs=vp9", body: "x"})
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name    string
		parts   []formPart
		status  int
		message string
	}{
		{
			name:    "no file",
			parts:   []formPart{{field: "title", body: "x"}},
			status:  http.StatusBadRequest,
			message: msgNoFile,
		},
		{
			name:    "unsupported type",
			parts:   []formPart{{field: "video", filename: "notes.txt", contentType: "text/plain", body: "x"}},
			status:  http.StatusBadRequest,
			message: msgInvalidType,
		},
		{
			name:    "missing type",
			parts:   []formPart{{field: "video", filename: "clip.mp4", body: "x"}},
			status:  http.StatusBadRequest,
			message: msgInvalidType,
		},
		{
			name:    "traversal name",
			parts:   []formPart{{field: "video", filename: "../escape.mp4", contentType: "video/mp4", body: "x"}},
			status:  http.StatusBadRequest,
			message: msgInvalidName,
		},
		{
			name:    "nested name",
			parts:   []formPart{{field: "video", filename: "sub/clip.mp4", contentType: "video/mp4", body: "x"}},
			status:  http.StatusBadRequest,
			message: msgInvalidName,
		},
		{
			name:    "blank name",
			parts:   []formPart{{field: "video", filename: "   ", contentType: "video/mp4", body: "x"}},
			status:  http.StatusBadRequest,
			message: msgInvalidName,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{})
			rec := httptest.NewRecorder()
			env.handler.Upload(rec, uploadRequest(t, tc.parts...))
			expectError(t, rec, tc.status, tc.message)
			entries, err := os.ReadDir(env.store.Root())
			if err != nil {
				t.Fatalf("read root: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("expected nothing stored, found %d entries", len(entries))
			}
			if _, err := os.Stat(filepath.Join(filepath.Dir(env.store.Root()), "escape.mp4")); err == nil {
				t.Fatalf("traversal upload escaped the storage root")
			}
		})
	}
}

func TestUploadRejectsTooManyFields(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	parts := make([]formPart, 0, maxFormFields+2)
	for i := 0; i <= maxFormFields; i++ {
		parts = append(parts, formPart{field: fmt.Sprintf("f%d", i), body: "v"})
	}
	parts = append(parts, formPart{field: "video", filename: "clip.mp4", contentType: "video/mp4", body: "x"})
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, uploadRequest(t, parts...))
	expectError(t, rec, http.StatusBadRequest, msgTooManyFields)
}

func TestUploadRejectsNonMultipart(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, req)
	expectError(t, rec, http.StatusBadRequest, msgInvalidMultipart)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t, envOptions{maxUpload: 8})
	req := uploadRequest(t, formPart{field: "video", filename: "big.mp4", contentType: "video/mp4", body: strings.Repeat("x", 64)})
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, req)
	expectError(t, rec, http.StatusRequestEntityTooLarge, msgTooLarge)
	if _, err := os.Stat(filepath.Join(env.store.Root(), "big.mp4")); err == nil {
		t.Fatalf("oversized upload must not be stored")
	}
}

func TestUploadRefusedWhenSlotsExhausted(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if !env.handler.uploadSlots.TryAcquire(DefaultMaxConcurrentUploads) {
		t.Fatalf("expected to take every upload slot")
	}
	defer env.handler.uploadSlots.Release(DefaultMaxConcurrentUploads)

	rec := httptest.NewRecorder()
	env.handler.Upload(rec, uploadRequest(t, formPart{field: "video", filename: "clip.mp4", contentType: "video/mp4", body: "x"}))
	expectError(t, rec, http.StatusServiceUnavailable, msgUploadsBusy)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestDeleteVideo(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	path := env.writeAsset(t, "old clip.mp4", "x")

	rec := httptest.NewRecorder()
	env.handler.DeleteVideo(rec, httptest.NewRequest(http.MethodDelete, "/api/video/old%20clip.mp4", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "File deleted successfully" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err=%v", err)
	}

	rec = httptest.NewRecorder()
	env.handler.DeleteVideo(rec, httptest.NewRequest(http.MethodDelete, "/api/video/old%20clip.mp4", nil))
	expectError(t, rec, http.StatusNotFound, msgNotFound)
}

func TestDeleteVideoRejectsTraversal(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	outside := filepath.Join(filepath.Dir(env.store.Root()), "keep.mp4")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write outside: %v", err)
	}
	for _, target := range []string{"/api/video/..%2Fkeep.mp4", "/api/video/%2E%2E%2Fkeep.mp4"} {
		rec := httptest.NewRecorder()
		env.handler.DeleteVideo(rec, httptest.NewRequest(http.MethodDelete, target, nil))
		expectError(t, rec, http.StatusBadRequest, msgInvalidPath)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("file outside root must survive: %v", err)
	}
}

func TestDownloadSetsAttachmentHeaders(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.writeAsset(t, "my clip.mp4", "0123456789")

	rec := httptest.NewRecorder()
	env.handler.Download(rec, httptest.NewRequest(http.MethodGet, "/api/download/my%20clip.mp4", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="my clip.mp4"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rec.Body.String() != "0123456789" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected range support to be advertised")
	}
}

func TestDownloadHonoursRange(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.writeAsset(t, "clip.mp4", "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/api/download/clip.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	env.handler.Download(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Fatalf("unexpected partial body %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Fatalf("unexpected content range %q", got)
	}
}

func TestDownloadErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if err := os.Mkdir(filepath.Join(env.store.Root(), "folder.mp4"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cases := map[string]int{
		"/api/download/missing.mp4":     http.StatusNotFound,
		"/api/download/folder.mp4":      http.StatusNotFound,
		"/api/download/..%2Fsecret.txt": http.StatusBadRequest,
		"/api/download/%2Fetc%2Fpasswd": http.StatusBadRequest,
		"/api/download/clip%00.mp4":     http.StatusBadRequest,
	}
	for target, status := range cases {
		rec := httptest.NewRecorder()
		env.handler.Download(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != status {
			t.Errorf("%s: expected %d, got %d", target, status, rec.Code)
		}
	}
}

func TestServeVideoIsInline(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.writeAsset(t, "clip.mp4", "\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

	rec := httptest.NewRecorder()
	env.handler.ServeVideo(rec, httptest.NewRequest(http.MethodGet, "/videos/clip.mp4", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Fatalf("inline playback must not force a download")
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("expected sniffed video/mp4, got %q", got)
	}
}

func TestTransferSimulated(t *testing.T) {
	env := newTestEnv(t, envOptions{transporter: transfer.NewSimulated(0)})
	env.writeAsset(t, "clip.mp4", "x")

	req := httptest.NewRequest(http.MethodPost, "/api/fpga-transfer", strings.NewReader(`{"videoPath":"/videos/clip.mp4"}`))
	rec := httptest.NewRecorder()
	env.handler.Transfer(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp transferResponse
	decodeBody(t, rec, &resp)
	if resp.Message != "Video transferred to FPGA successfully" || resp.VideoPath != "/videos/clip.mp4" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Status != transfer.StatusSimulated || resp.ID == "" {
		t.Fatalf("expected simulated status and an id, got %+v", resp)
	}

	rec = httptest.NewRecorder()
	env.handler.ListTransfers(rec, httptest.NewRequest(http.MethodGet, "/api/transfers", nil))
	var records []transfer.Record
	decodeBody(t, rec, &records)
	if len(records) != 1 || records[0].ID != resp.ID || records[0].CompletedAt == nil {
		t.Fatalf("unexpected ledger %+v", records)
	}
}

func TestTransferRejections(t *testing.T) {
	env := newTestEnv(t, envOptions{transporter: transfer.NewSimulated(0)})
	cases := []struct {
		body    string
		status  int
		message string
	}{
		{body: `not json`, status: http.StatusBadRequest, message: msgInvalidBody},
		{body: `{"videoPath":""}`, status: http.StatusBadRequest, message: msgInvalidVideoPath},
		{body: `{"videoPath":"clip.mp4"}`, status: http.StatusBadRequest, message: msgInvalidVideoPath},
		{body: `{"videoPath":"/videos/../etc/passwd"}`, status: http.StatusBadRequest, message: msgInvalidVideoPath},
		{body: `{"videoPath":"/videos/missing.mp4"}`, status: http.StatusBadRequest, message: msgInvalidVideoPath},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		env.handler.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/fpga-transfer", strings.NewReader(tc.body)))
		expectError(t, rec, tc.status, tc.message)
	}
}

func TestTransferDriverFailure(t *testing.T) {
	failing := transfer.TransporterFunc(func(context.Context, transfer.Job) (transfer.Result, error) {
		return transfer.Result{}, fmt.Errorf("pipeline offline")
	})
	env := newTestEnv(t, envOptions{transporter: failing})
	env.writeAsset(t, "clip.mp4", "x")

	rec := httptest.NewRecorder()
	env.handler.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/fpga-transfer", strings.NewReader(`{"videoPath":"/videos/clip.mp4"}`)))
	expectError(t, rec, http.StatusBadGateway, msgTransferFailed)
	if strings.Contains(rec.Body.String(), "pipeline offline") {
		t.Fatalf("driver error must not leak to clients")
	}
}

func TestTransferQueuedMessage(t *testing.T) {
	queued := transfer.TransporterFunc(func(context.Context, transfer.Job) (transfer.Result, error) {
		return transfer.Result{Status: transfer.StatusQueued}, nil
	})
	env := newTestEnv(t, envOptions{transporter: queued})
	env.writeAsset(t, "clip.mp4", "x")

	rec := httptest.NewRecorder()
	env.handler.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/fpga-transfer", strings.NewReader(`{"videoPath":"/videos/clip.mp4"}`)))
	var resp transferResponse
	decodeBody(t, rec, &resp)
	if resp.Status != transfer.StatusQueued || resp.Message != "Video transfer to FPGA queued" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestTransferDisabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := httptest.NewRecorder()
	env.handler.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/fpga-transfer", strings.NewReader(`{"videoPath":"/videos/clip.mp4"}`)))
	expectError(t, rec, http.StatusServiceUnavailable, msgTransfersDisabled)

	rec = httptest.NewRecorder()
	env.handler.ListTransfers(rec, httptest.NewRequest(http.MethodGet, "/api/transfers", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty transfer list, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestTransfersLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{transporter: transfer.NewSimulated(0)})
	env.writeAsset(t, "clip.mp4", "x")
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		env.handler.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/fpga-transfer", strings.NewReader(`{"videoPath":"/videos/clip.mp4"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("transfer %d: %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	env.handler.ListTransfers(rec, httptest.NewRequest(http.MethodGet, "/api/transfers?limit=2", nil))
	var records []transfer.Record
	decodeBody(t, rec, &records)
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}

	for _, raw := range []string{"0", "-1", "abc"} {
		rec := httptest.NewRecorder()
		env.handler.ListTransfers(rec, httptest.NewRequest(http.MethodGet, "/api/transfers?limit="+raw, nil))
		expectError(t, rec, http.StatusBadRequest, msgInvalidLimit)
	}
}

func TestPagesRender(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for name, fn := range map[string]http.HandlerFunc{"index": env.handler.Index, "docs": env.handler.Docs} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
			t.Fatalf("%s: unexpected content type %q", name, rec.Header().Get("Content-Type"))
		}
		if !strings.Contains(rec.Body.String(), "/api/upload") {
			t.Fatalf("%s: expected endpoint listing in page", name)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("expected healthy response, got %d %s", rec.Code, rec.Body.String())
	}

	if err := os.RemoveAll(env.store.Root()); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	rec = httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when root is missing, got %d", rec.Code)
	}
}
