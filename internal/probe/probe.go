// Package probe extracts playback durations from video files.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Unknown is reported whenever a duration cannot be determined.
const Unknown = "Unknown"

// ErrProbeFailure is wrapped by every error a SecondsProber returns. It never
// reaches HTTP clients; MetadataProber implementations turn it into Unknown.
var ErrProbeFailure = errors.New("probe: duration unavailable")

// MetadataProber reports a human-readable playback duration for a file. It
// never fails: any problem yields Unknown.
type MetadataProber interface {
	Duration(ctx context.Context, path string) string
}

// SecondsProber extracts the raw duration of a file in seconds.
type SecondsProber interface {
	Seconds(ctx context.Context, path string) (float64, error)
}

// FormatDuration renders seconds as H:MM:SS when at least one hour long and
// M:SS otherwise. Every component is truncated, never rounded.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return Unknown
	}
	hours := int64(seconds / 3600)
	minutes := int64(math.Mod(seconds, 3600) / 60)
	secs := int64(math.Mod(seconds, 60))
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// ParseSeconds parses the single value printed by ffprobe for
// format=duration. Values such as N/A are rejected.
func ParseSeconds(output string) (float64, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty output", ErrProbeFailure)
	}
	if idx := strings.IndexAny(trimmed, "\r\n"); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable output %q", ErrProbeFailure, trimmed)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: invalid duration %q", ErrProbeFailure, trimmed)
	}
	return value, nil
}

// Static is a canned prober keyed by path. Paths without an entry report
// Fallback, or Unknown when Fallback is empty.
type Static struct {
	Durations map[string]string
	Fallback  string

	mu    sync.Mutex
	calls []string
}

// Duration implements MetadataProber.
func (s *Static) Duration(_ context.Context, path string) string {
	s.mu.Lock()
	s.calls = append(s.calls, path)
	s.mu.Unlock()
	if value, ok := s.Durations[path]; ok {
		return value
	}
	if s.Fallback != "" {
		return s.Fallback
	}
	return Unknown
}

// Calls returns the paths probed so far.
func (s *Static) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// SecondsFunc adapts a function to SecondsProber.
type SecondsFunc func(ctx context.Context, path string) (float64, error)

// Seconds implements SecondsProber.
func (f SecondsFunc) Seconds(ctx context.Context, path string) (float64, error) {
	return f(ctx, path)
}
