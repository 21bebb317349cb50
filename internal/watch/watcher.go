// Package watch reports images that appear in a directory once they stop
// changing.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"sharpscale/internal/fsutil"
)

// DefaultSettle is how long a file must stay quiet before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Accept reports whether path is an input image and not one of our outputs.
func Accept(path string) bool {
	return fsutil.IsImageFile(path) && !fsutil.IsEnhancedOutput(path)
}

// Watcher monitors one directory, non-recursively.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	settle  time.Duration
	log     *slog.Logger
	ready   chan string
}

// New creates a watcher for dir. A non-positive settle selects DefaultSettle.
func New(dir string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		watcher: fw,
		dir:     dir,
		settle:  settle,
		log:     logger,
		ready:   make(chan string, 16),
	}, nil
}

// Ready delivers settled image paths. It is closed when Run returns.
func (w *Watcher) Ready() <-chan string { return w.ready }

// Close releases the watch without running. Run closes it on return.
func (w *Watcher) Close() error { return w.watcher.Close() }

// Run processes events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.ready)
	defer w.watcher.Close()

	w.log.Info("watching directory", "dir", w.dir, "settle_ms", w.settle.Milliseconds())

	tick := w.settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !Accept(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = time.Now().Add(w.settle)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", "dir", w.dir, "error", err)

		case now := <-ticker.C:
			for path, due := range pending {
				if now.Before(due) {
					continue
				}
				delete(pending, path)
				info, err := os.Stat(path)
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
				select {
				case w.ready <- path:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
