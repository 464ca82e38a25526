package probe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	execute "github.com/alexellis/go-execute/v2"

	"videovault/internal/observability/metrics"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{59.999, "0:59"},
		{60, "1:00"},
		{125.4, "2:05"},
		{3599.99, "59:59"},
		{3600, "1:00:00"},
		{3725.9, "1:02:05"},
		{36000 + 61, "10:01:01"},
		{-1, Unknown},
		{math.NaN(), Unknown},
		{math.Inf(1), Unknown},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.seconds); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestParseSeconds(t *testing.T) {
	value, err := ParseSeconds(" 125.400000\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value != 125.4 {
		t.Fatalf("expected 125.4, got %v", value)
	}

	for _, input := range []string{"", "N/A", "abc", "-3", "NaN"} {
		if _, err := ParseSeconds(input); !errors.Is(err, ErrProbeFailure) {
			t.Errorf("ParseSeconds(%q) expected ErrProbeFailure, got %v", input, err)
		}
	}
}

func TestFFProbeBuildsCommand(t *testing.T) {
	var captured execute.ExecTask
	probe := NewFFProbe(FFProbeConfig{
		Binary: "/opt/ffprobe",
		Runner: func(_ context.Context, task execute.ExecTask) (string, string, error) {
			captured = task
			return "3725.9\n", "", nil
		},
	})

	seconds, err := probe.Seconds(context.Background(), "/data/clip.mp4")
	if err != nil {
		t.Fatalf("seconds: %v", err)
	}
	if seconds != 3725.9 {
		t.Fatalf("expected 3725.9, got %v", seconds)
	}
	if captured.Command != "/opt/ffprobe" {
		t.Fatalf("unexpected command %q", captured.Command)
	}
	want := "-v quiet -show_entries format=duration -of csv=p=0 /data/clip.mp4"
	if got := strings.Join(captured.Args, " "); got != want {
		t.Fatalf("unexpected args %q", got)
	}
	if captured.Shell {
		t.Fatalf("expected the path to be passed without a shell")
	}
}

func TestDescriberReportsUnknownOnFailure(t *testing.T) {
	var logs bytes.Buffer
	recorder := metrics.New()
	describer := &Describer{
		Source: NewFFProbe(FFProbeConfig{
			Runner: func(context.Context, execute.ExecTask) (string, string, error) {
				return "", "No such file", errors.New("exit code 1")
			},
		}),
		Logger:  slog.New(slog.NewJSONHandler(&logs, nil)),
		Metrics: recorder,
	}

	if got := describer.Duration(context.Background(), "/data/broken.mp4"); got != Unknown {
		t.Fatalf("expected %q, got %q", Unknown, got)
	}
	if !strings.Contains(logs.String(), "duration probe failed") {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
	if recorder.ProbeCounts()["unknown"] != 1 {
		t.Fatalf("expected unknown outcome to be counted, got %v", recorder.ProbeCounts())
	}
}

func TestDescriberFormatsSuccess(t *testing.T) {
	describer := &Describer{Source: SecondsFunc(func(context.Context, string) (float64, error) {
		return 125.4, nil
	})}
	if got := describer.Duration(context.Background(), "clip.mp4"); got != "2:05" {
		t.Fatalf("expected 2:05, got %q", got)
	}
}

func TestStaticProber(t *testing.T) {
	static := &Static{Durations: map[string]string{"/a.mp4": "1:00"}}
	if got := static.Duration(context.Background(), "/a.mp4"); got != "1:00" {
		t.Fatalf("expected canned value, got %q", got)
	}
	if got := static.Duration(context.Background(), "/b.mp4"); got != Unknown {
		t.Fatalf("expected Unknown fallback, got %q", got)
	}
	if calls := static.Calls(); len(calls) != 2 {
		t.Fatalf("expected two recorded calls, got %v", calls)
	}
}
