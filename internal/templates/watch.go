package templates

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of writes (an editor saving, a copy of a
// whole template set) into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Registry when template assets or the layout mapping change.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	onChange func(paths []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches the registry directory. onChange, when set, is called
// after each reload with the paths that changed.
func NewWatcher(r *Registry, logger *slog.Logger, onChange func(paths []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: r,
		watcher:  fw,
		logger:   logger,
		debounce: DefaultDebounce,
		onChange: onChange,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce overrides the reload delay. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Start begins monitoring the template directory and every directory below
// it, matching the recursive scan Load does.
func (w *Watcher) Start() error {
	if err := w.addTree(w.registry.Dir()); err != nil {
		return err
	}
	w.logger.Info("watching templates", "dir", w.registry.Dir())
	go w.processEvents()
	return nil
}

// addTree adds root and all its subdirectories to the watch list.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// Stop ends monitoring. Pending reloads are dropped.
func (w *Watcher) Stop() error {
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

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// a new subdirectory may arrive with templates already inside
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("cannot watch template subdirectory", "dir", event.Name, "error", err)
					}
					w.schedule(event.Name)
					continue
				}
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("template watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if err := w.registry.Reload(); err != nil {
		w.logger.Warn("template reload finished with errors", "error", err)
	}
	if w.onChange != nil {
		w.onChange(paths)
	}
}

func isTemplateFile(path string) bool {
	if filepath.Base(path) == MappingFile {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ".png")
}
