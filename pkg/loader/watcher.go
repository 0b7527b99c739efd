package loader

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChangeListener is notified whenever the watcher reloads a workflow
// file. err is non-nil when the reload failed; in that case workflow is
// the zero value and the watcher has dropped the file's cache entry.
type ChangeListener func(filePath string, workflow *LoadedWorkflow, err error)

// Watcher reloads workflow files into a Cache on fsnotify change events
// ("optional file-watcher mode"). Grounded on the teacher's
// internal/controller/filewatcher/watcher.go: one fsnotify.Watcher per
// root, an event loop goroutine translating ops into reload attempts.
type Watcher struct {
	cache *Cache
	fsw   *fsnotify.Watcher
	dir   string
	log   *slog.Logger

	mu        sync.Mutex
	listeners []ChangeListener
	disabled  map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher over dir that reloads changed files into
// cache. Cache keys are the file's path relative to dir.
func NewWatcher(dir string, cache *Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(fsw, dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		cache:    cache,
		fsw:      fsw,
		dir:      dir,
		log:      slog.Default().With(slog.String("component", "loader.watcher"), slog.String("dir", dir)),
		disabled: make(map[string]bool),
	}, nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// OnChange registers a listener invoked after every reload attempt.
func (w *Watcher) OnChange(l ChangeListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Start begins watching for filesystem events in the background.
func (w *Watcher) Start() {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.eventLoop()
}

// Stop halts the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) eventLoop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !isWorkflowFile(ev.Name) {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
			key := w.relKey(ev.Name)
			w.cache.Delete(key)
			w.notify(ev.Name, nil, nil)
		}
		return
	}

	w.mu.Lock()
	if w.disabled[ev.Name] {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	lw, err := loadFile(ev.Name)
	key := w.relKey(ev.Name)
	if err != nil {
		// Watcher errors disable the watcher for that file and drop the
		// entry.
		w.mu.Lock()
		w.disabled[ev.Name] = true
		w.mu.Unlock()
		w.cache.Delete(key)
		w.log.Warn("disabling watch for file after reload error", "file", ev.Name, "error", err)
		w.notify(ev.Name, nil, err)
		return
	}
	if lw == nil {
		return
	}
	w.cache.Set(key, *lw)
	w.notify(ev.Name, lw, nil)
}

func (w *Watcher) notify(filePath string, lw *LoadedWorkflow, err error) {
	w.mu.Lock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, l := range listeners {
		l(filePath, lw, err)
	}
}

func (w *Watcher) relKey(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return path
	}
	return rel
}

func isWorkflowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}
