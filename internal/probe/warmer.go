package probe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type WarmerConfig struct {
	Prober    MetadataProber
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
	// Root, when set, is scanned on Start so existing files are probed
	// before the first listing. Accept filters which entries are queued.
	Root   string
	Accept func(name string) bool
}

// Warmer probes files in the background so later listings hit the cache.
type Warmer struct {
	prober  MetadataProber
	workers int
	timeout time.Duration
	logger  *slog.Logger
	root    string
	accept  func(string) bool

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultWarmWorkers   = 2
	defaultWarmQueueSize = 64
	defaultWarmTimeout   = 30 * time.Second
)

func NewWarmer(cfg WarmerConfig) *Warmer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWarmWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultWarmQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWarmTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Warmer{
		prober:   cfg.Prober,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
		root:     cfg.Root,
		accept:   cfg.Accept,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan string, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

func (w *Warmer) Start() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	if w.root != "" {
		go w.warmExisting()
	}
}

func (w *Warmer) Shutdown(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules path for probing. It never blocks: when the queue is full
// the job is dropped and the next listing probes the file inline.
func (w *Warmer) Enqueue(path string) bool {
	if w == nil || strings.TrimSpace(path) == "" {
		return false
	}
	select {
	case <-w.ctx.Done():
		return false
	default:
	}
	select {
	case w.queue <- path:
		return true
	default:
		w.logger.Warn("probe warm queue full, dropping job", "path", path)
		return false
	}
}

func (w *Warmer) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case path := <-w.queue:
			if !w.beginWork(path) {
				continue
			}
			w.warm(path)
			w.finishWork(path)
		}
	}
}

func (w *Warmer) beginWork(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.inFlight[path]; exists {
		return false
	}
	w.inFlight[path] = struct{}{}
	return true
}

func (w *Warmer) finishWork(path string) {
	w.mu.Lock()
	delete(w.inFlight, path)
	w.mu.Unlock()
}

func (w *Warmer) warm(path string) {
	if w.prober == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	duration := w.prober.Duration(ctx, path)
	w.logger.Debug("probe cache warmed", "path", path, "duration", duration)
}

func (w *Warmer) warmExisting() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Error("failed to scan storage root for warming", "error", err)
		return
	}
	for _, entry := range entries {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		if entry.IsDir() {
			continue
		}
		if w.accept != nil && !w.accept(entry.Name()) {
			continue
		}
		w.Enqueue(filepath.Join(w.root, entry.Name()))
	}
}
