package transfer

import (
	"context"
	"time"
)

const (
	StatusSimulated = "simulated"
	StatusAccepted  = "accepted"
	StatusQueued    = "queued"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// DefaultSimulatedDelay is how long the simulated driver pretends to work.
const DefaultSimulatedDelay = 2 * time.Second

// Result is what a driver reports after a successful hand-off.
type Result struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// AssetTransporter hands a job off to the downstream pipeline.
type AssetTransporter interface {
	Transfer(ctx context.Context, job Job) (Result, error)
}

// TransporterFunc adapts a function to AssetTransporter.
type TransporterFunc func(ctx context.Context, job Job) (Result, error)

func (f TransporterFunc) Transfer(ctx context.Context, job Job) (Result, error) {
	return f(ctx, job)
}

// Simulated stands in for pipeline hardware that is not attached. It waits
// Delay and reports success.
type Simulated struct {
	Delay time.Duration
}

// NewSimulated returns a simulated driver. A negative delay selects
// DefaultSimulatedDelay; zero completes immediately.
func NewSimulated(delay time.Duration) *Simulated {
	if delay < 0 {
		delay = DefaultSimulatedDelay
	}
	return &Simulated{Delay: delay}
}

func (s *Simulated) Transfer(ctx context.Context, job Job) (Result, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Result{Status: StatusSimulated}, nil
}
