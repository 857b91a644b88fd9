package jobstore

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeCallback is called after the jobs file changed on disk
type ChangeCallback func(path string)

// Watcher reports edits of the jobs file, including edits made by other
// processes such as the CLI or a text editor.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	callback ChangeCallback
	debounce time.Duration
	logger   *zap.SugaredLogger

	timer *time.Timer
	mu    sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher watches the directory holding path. The directory is watched
// rather than the file because every write replaces the file by rename.
func NewWatcher(path string, callback ChangeCallback, logger *zap.SugaredLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		path:     abs,
		callback: callback,
		debounce: 250 * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins delivering change callbacks
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warnw("jobs file watch error", "error", err)
			}
		}
	}()
}

// Stop stops watching and waits for the event loop to exit
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.watcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// SetDebounce sets how long to wait for a burst of events to settle
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.logger.Debugw("jobs file changed", "path", w.path)
	if w.callback != nil {
		w.callback(w.path)
	}
}
