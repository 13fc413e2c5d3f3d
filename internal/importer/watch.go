package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettleTime is how long a file must stay unchanged before it is handed over.
const DefaultSettleTime = 500 * time.Millisecond

const (
	logFmtWatchError   = "File watch error: %v"
	logFmtHandleFailed = "Failed to handle %s: %v"
)

// Watcher reports recordings written into a directory once they stop changing.
type Watcher struct {
	watcher *fsnotify.Watcher
	exts    []string
	settle  time.Duration
	log     *logger.Logger
}

// NewWatcher watches dir for files with one of exts. log may be nil.
func NewWatcher(dir string, exts []string, settle time.Duration, log *logger.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	addErr := watcher.Add(dir)
	if addErr != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("failed to watch %s: %w", dir, addErr)
	}

	if settle <= 0 {
		settle = DefaultSettleTime
	}

	return &Watcher{watcher: watcher, exts: exts, settle: settle, log: log}, nil
}

// Run calls handle for every settled file until ctx is done. Errors from handle
// are logged and do not stop the watch.
func (w *Watcher) Run(ctx context.Context, handle func(path string) error) error {
	pending := make(map[string]time.Time)

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if fsutil.HasExtension(event.Name, w.exts) {
					pending[event.Name] = time.Now()
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.logError(logFmtWatchError, err)

		case now := <-ticker.C:
			for path, touched := range pending {
				if now.Sub(touched) < w.settle {
					continue
				}

				delete(pending, path)

				handleErr := handle(path)
				if handleErr != nil {
					w.logError(logFmtHandleFailed, path, handleErr)
				}
			}
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) logError(format string, args ...any) {
	if w.log != nil {
		w.log.Error(format, args...)
	}
}
