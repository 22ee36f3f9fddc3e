package trigger

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/modhost"
)

// FileWatcher requests a reload when a watched module file is written or
// replaced. Bursts of events within the debounce window produce one request.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	target   Reloader
	logger   modhost.Logger
	debounce time.Duration

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]bool
	timer *time.Timer

	stopOnce sync.Once
	done     chan struct{}
}

// WatcherOption configures a FileWatcher.
type WatcherOption func(*FileWatcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger modhost.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// WithDebounce sets the quiet period after the last event before a reload
// is requested. Zero requests a reload for every event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounce = d
	}
}

// NewFileWatcher creates a watcher feeding target.
func NewFileWatcher(target Reloader, opts ...WatcherOption) (*FileWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("trigger: %w", err)
	}
	w := &FileWatcher{
		watcher:  fw,
		target:   target,
		logger:   discardLogger(),
		debounce: 250 * time.Millisecond,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds a module file. The containing directory is watched so that
// editors that save by renaming are noticed.
func (w *FileWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Error("Failed to watch directory", "path", dir, "error", err)
			return fmt.Errorf("trigger: watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.files[abs] = true
	w.logger.Debug("Watching module file", "path", abs)
	return nil
}

// Start processes events until Stop is called.
func (w *FileWatcher) Start() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.watched(event.Name) {
				continue
			}
			w.logger.Debug("Module file changed", "file", event.Name, "op", event.Op.String())
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Module watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync runs Start in a goroutine.
func (w *FileWatcher) StartAsync() {
	go w.Start()
}

// Stop ends event processing and releases the underlying watcher.
func (w *FileWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *FileWatcher) watched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[abs]
}

func (w *FileWatcher) schedule() {
	if w.debounce <= 0 {
		w.target.Trigger(modhost.ReloadTriggerFile)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.target.Trigger(modhost.ReloadTriggerFile)
	})
}
