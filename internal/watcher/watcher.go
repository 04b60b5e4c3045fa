// Package watcher provides the per-project recursive file watcher that
// triggers a supervisor restart when a service-kind project's working
// directory changes (spec.md section 4.8).
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Config configures one project's watcher.
type Config struct {
	ProjectID     string
	WorkDir       string   // effective working directory to watch, recursively
	GroupDir      string   // ancestor bound for collecting .gitignore files
	WatchPatterns []string // optional user glob patterns; empty means "all files"
	Logger        *slog.Logger
	Debounce      time.Duration

	// OnRestart is invoked once per debounced burst with the path that
	// fired it. The supervisor wires this to its restart path.
	OnRestart func(projectID, path string)
}

// Watcher recursively watches one project's working directory.
type Watcher struct {
	cfg       Config
	log       *slog.Logger
	ignore    *ignoreSet
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	done chan struct{}
	once sync.Once
}

// New creates and arms a Watcher but does not start its event loop.
func New(cfg Config) (*Watcher, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.GroupDir == "" {
		cfg.GroupDir = cfg.WorkDir
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:       cfg,
		log:       log,
		ignore:    loadIgnoreSet(cfg.WorkDir, cfg.GroupDir),
		fsWatcher: fsw,
		done:      make(chan struct{}),
	}
	w.debouncer = NewDebouncer(debounce, w.fireRestart)

	if err := w.addRecursive(cfg.WorkDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addRecursive walks dir and adds every non-ignored subdirectory to the
// fsnotify watch set.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignore.matches(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.log.Debug("watch add failed", "project_id", w.cfg.ProjectID, "path", path, "error", err)
		}
		return nil
	})
}

// Run processes fsnotify events until Stop is called or the watcher's
// underlying fsnotify instance errors out permanently. Intended to be run
// on its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", "project_id", w.cfg.ProjectID, "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	info, statErr := os.Stat(path)
	isDir := statErr == nil && info.IsDir()

	if w.ignore.matches(path, isDir) {
		return
	}

	// A newly created directory must be added to the watch set so files
	// created inside it are later observable; directory events themselves
	// still pass straight to the debouncer below.
	if isDir && event.Has(fsnotify.Create) {
		if err := w.addRecursive(path); err != nil {
			w.log.Debug("watch add on create failed", "project_id", w.cfg.ProjectID, "path", path, "error", err)
		}
	}

	// File events (not directory events) must additionally match at least
	// one configured user pattern, when any are configured (spec.md
	// section 4.8, rule 3).
	if !isDir && len(w.cfg.WatchPatterns) > 0 && !w.matchesUserPattern(path) {
		return
	}

	w.debouncer.Trigger(path)
}

func (w *Watcher) matchesUserPattern(path string) bool {
	rel, err := filepath.Rel(w.cfg.WorkDir, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.cfg.WatchPatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) fireRestart(path string) {
	if w.cfg.OnRestart != nil {
		w.cfg.OnRestart(w.cfg.ProjectID, path)
	}
}

// Stop tears down the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		w.fsWatcher.Close()
	})
}
