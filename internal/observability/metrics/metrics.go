package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TransferLabel identifies a transfer outcome by driver and status.
type TransferLabel struct {
	Driver string
	Status string
}

// Recorder aggregates in-memory counters and gauges for HTTP traffic and the
// catalog lifecycle: uploads, deletions, duration probes and transfers.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploads         map[string]uint64
	uploadedBytes   uint64
	deletions       map[string]uint64
	probes          map[string]uint64
	transfers       map[TransferLabel]uint64
	rateLimited     map[string]uint64
	activeUploads   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder ready for use.
func New() *Recorder {
	r := &Recorder{}
	r.resetLocked()
	return r
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder. A nil recorder is ignored.
func SetDefault(recorder *Recorder) {
	if recorder != nil {
		defaultRecorder = recorder
	}
}

// ObserveRequest accumulates request count and cumulative duration by method,
// normalized path and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadStarted increments the active upload gauge.
func (r *Recorder) UploadStarted() {
	r.activeUploads.Add(1)
}

// UploadFinished decrements the active upload gauge and records the result.
// Bytes are only counted for successful uploads.
func (r *Recorder) UploadFinished(result string, bytes int64) {
	r.decrementGauge(&r.activeUploads)
	normalized := normalizeName(result)
	r.mu.Lock()
	r.uploads[normalized]++
	if normalized == "ok" && bytes > 0 {
		r.uploadedBytes += uint64(bytes)
	}
	r.mu.Unlock()
}

// ObserveDeletion records a deletion attempt by result.
func (r *Recorder) ObserveDeletion(result string) {
	r.incr(r.deletions, result)
}

// ObserveProbe records a duration probe outcome such as "ok", "unknown" or "cached".
func (r *Recorder) ObserveProbe(outcome string) {
	r.incr(r.probes, outcome)
}

// ObserveRateLimited records a request rejected by the named limiter.
func (r *Recorder) ObserveRateLimited(limiter string) {
	r.incr(r.rateLimited, limiter)
}

// ObserveTransfer records a transfer outcome for the given driver.
func (r *Recorder) ObserveTransfer(driver, status string) {
	label := TransferLabel{Driver: normalizeName(driver), Status: normalizeName(status)}
	r.mu.Lock()
	r.transfers[label]++
	r.mu.Unlock()
}

func (r *Recorder) incr(counter map[string]uint64, key string) {
	normalized := normalizeName(key)
	r.mu.Lock()
	counter[normalized]++
	r.mu.Unlock()
}

// ActiveUploads exposes the number of uploads currently streaming to disk.
func (r *Recorder) ActiveUploads() int64 {
	return r.activeUploads.Load()
}

// UploadCounts returns a copy of the upload counters and the total stored bytes.
func (r *Recorder) UploadCounts() (map[string]uint64, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounts(r.uploads), r.uploadedBytes
}

// ProbeCounts returns a copy of the probe outcome counters.
func (r *Recorder) ProbeCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounts(r.probes)
}

// TransferCounts returns a copy of the transfer counters.
func (r *Recorder) TransferCounts() map[TransferLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[TransferLabel]uint64, len(r.transfers))
	for k, v := range r.transfers {
		out[k] = v
	}
	return out
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Recorder) resetLocked() {
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploads = make(map[string]uint64)
	r.uploadedBytes = 0
	r.deletions = make(map[string]uint64)
	r.probes = make(map[string]uint64)
	r.transfers = make(map[TransferLabel]uint64)
	r.rateLimited = make(map[string]uint64)
	r.activeUploads.Store(0)
}

// Handler exposes the Recorder as Prometheus text exposition.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with label sets sorted
// for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP videovault_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE videovault_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videovault_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP videovault_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE videovault_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videovault_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP videovault_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE videovault_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videovault_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	writeCounter(w, "videovault_uploads_total", "Uploads by result", "result", r.uploads)

	fmt.Fprintln(w, "# HELP videovault_uploaded_bytes_total Bytes stored by successful uploads")
	fmt.Fprintln(w, "# TYPE videovault_uploaded_bytes_total counter")
	fmt.Fprintf(w, "videovault_uploaded_bytes_total %d\n", r.uploadedBytes)

	fmt.Fprintln(w, "# HELP videovault_active_uploads Current number of uploads streaming to disk")
	fmt.Fprintln(w, "# TYPE videovault_active_uploads gauge")
	fmt.Fprintf(w, "videovault_active_uploads %d\n", r.activeUploads.Load())

	writeCounter(w, "videovault_deletions_total", "Deletions by result", "result", r.deletions)
	writeCounter(w, "videovault_probes_total", "Duration probes by outcome", "outcome", r.probes)
	writeCounter(w, "videovault_rate_limited_total", "Requests rejected by rate limiting", "limiter", r.rateLimited)

	fmt.Fprintln(w, "# HELP videovault_transfers_total Asset transfers by driver and status")
	fmt.Fprintln(w, "# TYPE videovault_transfers_total counter")
	for _, label := range r.sortedTransferLabels() {
		fmt.Fprintf(w, "videovault_transfers_total{driver=\"%s\",status=\"%s\"} %d\n", label.Driver, label.Status, r.transfers[label])
	}
}

func writeCounter(w io.Writer, name, help, labelName string, values map[string]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, labelName, key, values[key])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTransferLabels() []TransferLabel {
	labels := make([]TransferLabel, 0, len(r.transfers))
	for label := range r.transfers {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Driver != labels[j].Driver {
			return labels[i].Driver < labels[j].Driver
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

// namedRoutes lists path prefixes whose trailing segment is a client-chosen
// asset name. Collapsing it keeps label cardinality bounded.
var namedRoutes = []string{"/api/video/", "/api/download/", "/videos/"}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for _, prefix := range namedRoutes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + ":name"
		}
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
