package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"

	"videovault/internal/observability/metrics"
)

const (
	defaultBinary  = "ffprobe"
	defaultTimeout = 10 * time.Second
)

// RunnerFunc executes a prepared task and returns its captured output. Tests
// substitute it to avoid depending on an installed ffprobe.
type RunnerFunc func(ctx context.Context, task execute.ExecTask) (stdout, stderr string, err error)

// FFProbeConfig configures FFProbe.
type FFProbeConfig struct {
	Binary  string
	Timeout time.Duration
	Runner  RunnerFunc
}

// FFProbe reads container durations with the ffprobe utility.
type FFProbe struct {
	binary  string
	timeout time.Duration
	run     RunnerFunc
}

// NewFFProbe returns an FFProbe with defaults applied.
func NewFFProbe(cfg FFProbeConfig) *FFProbe {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = defaultBinary
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	run := cfg.Runner
	if run == nil {
		run = runTask
	}
	return &FFProbe{binary: binary, timeout: timeout, run: run}
}

// Args returns the ffprobe arguments used to read the duration of path.
func Args(path string) []string {
	return []string{"-v", "quiet", "-show_entries", "format=duration", "-of", "csv=p=0", path}
}

// Seconds implements SecondsProber.
func (p *FFProbe) Seconds(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	task := execute.ExecTask{
		Command:     p.binary,
		Args:        Args(path),
		StreamStdio: false,
	}
	stdout, stderr, err := p.run(ctx, task)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return 0, fmt.Errorf("%w: %v: %s", ErrProbeFailure, err, msg)
		}
		return 0, fmt.Errorf("%w: %v", ErrProbeFailure, err)
	}
	return ParseSeconds(stdout)
}

func runTask(ctx context.Context, task execute.ExecTask) (string, string, error) {
	res, err := task.Execute(ctx)
	if err != nil {
		return "", "", err
	}
	if res.Cancelled {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res.Stdout, res.Stderr, ctxErr
		}
		return res.Stdout, res.Stderr, context.Canceled
	}
	if res.ExitCode != 0 {
		return res.Stdout, res.Stderr, fmt.Errorf("exit code %d", res.ExitCode)
	}
	return res.Stdout, res.Stderr, nil
}

// Describer turns a SecondsProber into a MetadataProber. Failures are logged
// and reported as Unknown. Every call is counted once, as "ok", "cached" or
// "unknown".
type Describer struct {
	Source  SecondsProber
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Duration implements MetadataProber.
func (d *Describer) Duration(ctx context.Context, path string) string {
	if d == nil || d.Source == nil {
		return Unknown
	}
	outcome := "ok"
	var (
		seconds float64
		err     error
	)
	if cached, ok := d.Source.(*Cached); ok {
		var hit bool
		seconds, hit, err = cached.lookup(ctx, path)
		if hit {
			outcome = "cached"
		}
	} else {
		seconds, err = d.Source.Seconds(ctx, path)
	}
	if err != nil {
		d.observe("unknown")
		if d.Logger != nil && !errors.Is(err, context.Canceled) {
			d.Logger.Warn("duration probe failed", "path", path, "error", err)
		}
		return Unknown
	}
	d.observe(outcome)
	return FormatDuration(seconds)
}

func (d *Describer) observe(outcome string) {
	if d.Metrics != nil {
		d.Metrics.ObserveProbe(outcome)
	}
}
