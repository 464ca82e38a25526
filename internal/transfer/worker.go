package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"videovault/internal/observability/metrics"
)

// WorkerConfig wires a Worker. Driver names the downstream transport in the
// ledger.
type WorkerConfig struct {
	Queue      Queue
	Downstream AssetTransporter
	Driver     string
	Ledger     Ledger
	Locator    Locator
	Workers    int
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	Now        func() time.Time
}

// Worker drains a Queue and forwards each job to a downstream transporter,
// updating the ledger record the queue hand-off created.
type Worker struct {
	queue      Queue
	downstream AssetTransporter
	driver     string
	ledger     Ledger
	locator    Locator
	workers    int
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Recorder
	now        func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	subs    []Subscription
	wg      sync.WaitGroup
}

// NewWorker validates cfg and returns an idle worker pool.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("transfer worker queue is required")
	}
	if cfg.Downstream == nil {
		return nil, errors.New("transfer worker downstream is required")
	}
	if cfg.Locator == nil {
		return nil, errors.New("transfer worker locator is required")
	}
	w := &Worker{
		queue:      cfg.Queue,
		downstream: cfg.Downstream,
		driver:     cfg.Driver,
		ledger:     cfg.Ledger,
		locator:    cfg.Locator,
		workers:    cfg.Workers,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
	if w.driver == "" {
		w.driver = "queue"
	}
	if w.ledger == nil {
		w.ledger = NewMemoryLedger(0)
	}
	if w.workers <= 0 {
		w.workers = 1
	}
	if w.timeout <= 0 {
		w.timeout = time.Minute
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.metrics == nil {
		w.metrics = metrics.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// Start subscribes the workers. It is a no-op when already started.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.workers; i++ {
		sub := w.queue.Subscribe()
		w.subs = append(w.subs, sub)
		w.wg.Add(1)
		go w.run(ctx, sub)
	}
}

// Stop closes the subscriptions and waits for in-flight jobs until ctx is done.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context, sub Subscription) {
	defer w.wg.Done()
	for job := range sub.Jobs() {
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	logger := w.logger.With("transfer_id", job.ID, "asset", job.Name)
	record := newRecord(job, w.driver)

	var err error
	if _, err = ParseReference(w.locator, job.AccessPath); err == nil {
		jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
		var result Result
		result, err = w.downstream.Transfer(jobCtx, job)
		cancel()
		record.Status = result.Status
	}
	ts := w.now().UTC()
	record.CompletedAt = &ts
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
		logger.Error("queued transfer failed", "error", err)
	} else {
		logger.Info("queued transfer delivered", "status", record.Status)
	}
	w.metrics.ObserveTransfer(w.driver, record.Status)
	if err := w.ledger.Record(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("transfer ledger write failed", "error", err)
	}
}
