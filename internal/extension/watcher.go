package extension

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
)

// Watcher reports module files that appear or change in a directory, debounced
// per file so a module still being copied is reported once.
type Watcher struct {
	dir      string
	ext      string
	debounce time.Duration
	onChange func(path string)
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped chan struct{}
	once    sync.Once
}

// NewWatcher watches dir for files ending in ext. onChange runs on a timer goroutine;
// callers hand the work to a scheduling domain.
func NewWatcher(dir, ext string, debounce time.Duration, onChange func(path string), logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		ext:      ext,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  w,
		timers:   map[string]*time.Timer{},
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}
	w.logger.Info("Watching for plugin modules", logfields.Path(w.dir))
	go w.loop(ctx)
	return nil
}

// Stop ends watching and cancels pending notifications.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopped)
		err = w.watcher.Close()
		w.mu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-w.stopped:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), w.ext) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Plugin watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case <-w.stopped:
			return
		default:
		}
		w.logger.Debug("Plugin module changed", logfields.Module(path))
		w.onChange(path)
	})
}
