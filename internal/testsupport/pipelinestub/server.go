package pipelinestub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// TransferPath is the endpoint the stub accepts jobs on.
const TransferPath = "/v1/transfers"

// Options describes how the fake pipeline should behave.
type Options struct {
	// Token is the expected bearer token. If empty, the check is skipped.
	Token string

	// FailTransfers causes the first N transfer requests to fail with
	// FailStatus (HTTP 503 when unset). Subsequent attempts succeed.
	FailTransfers int
	FailStatus    int

	// Status is echoed back in the response body. Leave empty to return a
	// body without a status field.
	Status string

	// Delay holds every response for the given duration.
	Delay time.Duration
}

// Operation represents a recorded pipeline interaction.
type Operation struct {
	JobID         string
	VideoPath     string
	Name          string
	Size          int64
	Authorization string
	Attempt       int
	Status        int
	Timestamp     time.Time
}

// Pipeline hosts a single httptest.Server that serves the transfer endpoint.
type Pipeline struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	operations []Operation
	attempts   int
}

// Start spins up a new pipeline stub using the provided options.
func Start(opts Options) *Pipeline {
	p := &Pipeline{opts: opts}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

// Close shuts down the underlying HTTP server.
func (p *Pipeline) Close() {
	if p.server != nil {
		p.server.Close()
	}
}

// URL returns the full transfer endpoint URL.
func (p *Pipeline) URL() string {
	return p.server.URL + TransferPath
}

// Operations returns a copy of all recorded operations in the order they occurred.
func (p *Pipeline) Operations() []Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Operation, len(p.operations))
	copy(out, p.operations)
	return out
}

func (p *Pipeline) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != TransferPath {
		http.Error(w, "unexpected request", http.StatusNotFound)
		return
	}
	if p.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+p.opts.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ID        string `json:"id"`
		VideoPath string `json:"videoPath"`
		Name      string `json:"name"`
		Size      int64  `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if p.opts.Delay > 0 {
		select {
		case <-time.After(p.opts.Delay):
		case <-r.Context().Done():
			return
		}
	}

	p.mu.Lock()
	p.attempts++
	attempt := p.attempts
	p.mu.Unlock()

	op := Operation{
		JobID:         req.ID,
		VideoPath:     req.VideoPath,
		Name:          req.Name,
		Size:          req.Size,
		Authorization: r.Header.Get("Authorization"),
		Attempt:       attempt,
		Status:        http.StatusOK,
		Timestamp:     time.Now(),
	}

	if attempt <= p.opts.FailTransfers {
		status := p.opts.FailStatus
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		op.Status = status
		p.record(op)
		http.Error(w, "pipeline unavailable", status)
		return
	}

	p.record(op)

	resp := map[string]string{"id": req.ID}
	if p.opts.Status != "" {
		resp["status"] = p.opts.Status
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *Pipeline) record(op Operation) {
	p.mu.Lock()
	p.operations = append(p.operations, op)
	p.mu.Unlock()
}
