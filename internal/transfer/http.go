package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPConfig configures the HTTP pipeline driver.
type HTTPConfig struct {
	URL           string
	Token         string
	Attempts      int
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// HTTPTransporter POSTs each job as JSON to the pipeline endpoint.
type HTTPTransporter struct {
	config HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// statusError is a non-2xx pipeline reply.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return e.msg
}

// NewHTTPTransporter validates cfg and returns a driver.
func NewHTTPTransporter(cfg HTTPConfig) (*HTTPTransporter, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("transfer pipeline url is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("transfer pipeline url %q is invalid", endpoint)
	}
	cfg.URL = endpoint
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransporter{config: cfg, client: client, logger: logger}, nil
}

func (t *HTTPTransporter) Transfer(ctx context.Context, job Job) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= t.config.Attempts; attempt++ {
		var reply Result
		err := t.post(ctx, job, &reply)
		if err == nil {
			if reply.Status == "" {
				reply.Status = StatusAccepted
			}
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) || attempt == t.config.Attempts {
			break
		}
		t.logger.Warn("pipeline transfer attempt failed", "job_id", job.ID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(t.config.RetryInterval):
		}
	}
	return Result{}, fmt.Errorf("pipeline transfer: %w", lastErr)
}

func (t *HTTPTransporter) post(ctx context.Context, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := bearer(t.config.Token); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, msg: fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(data)))}
	}
	if dest == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// retryable reports whether another attempt may succeed. Client errors other
// than 408 and 429 are final.
func retryable(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return true
	}
	switch {
	case se.code == http.StatusRequestTimeout, se.code == http.StatusTooManyRequests:
		return true
	case se.code >= 400 && se.code < 500:
		return false
	default:
		return true
	}
}

func bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
