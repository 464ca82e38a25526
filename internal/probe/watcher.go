package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Forgetter drops cached results for a path.
type Forgetter interface {
	Forget(ctx context.Context, path string)
}

// Watcher evicts cached probe results when files under the storage root
// change outside the service, for example when an operator copies files in.
type Watcher struct {
	watcher *fsnotify.Watcher
	target  Forgetter
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Watch starts watching root. Close stops the watcher.
func Watch(root string, target Forgetter, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("probe: create watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("probe: watch %s: %w", root, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		watcher: fsw,
		target:  target,
		logger:  logger,
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
				w.target.Forget(context.Background(), event.Name)
				w.logger.Debug("probe cache entry evicted", "path", event.Name, "op", event.Op.String())
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("storage watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
