// Package yamlwatch runs one directory-level fsnotify watcher per
// sync-enabled group, filtered to its exact openrunner.yaml filename, and
// turns accepted (non-self-write) changes into a YamlFileChanged event plus
// a reload callback (spec.md section 4.2).
package yamlwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openrunner/openrunner/internal/events"
	"github.com/openrunner/openrunner/internal/watcher"
	"github.com/openrunner/openrunner/internal/yamlmirror"
)

const debounceWindow = 500 * time.Millisecond

// ReloadFunc is invoked after an accepted change, with the group whose YAML
// changed and the path that fired it. The handling policy (reload into the
// Config Store) belongs to the caller, not this package (spec.md section
// 4.2: "the handling policy ... lives in the Supervisor's command layer").
type ReloadFunc func(ctx context.Context, groupID, path string)

// Manager owns one groupWatcher per currently-synced group.
type Manager struct {
	mirror *yamlmirror.Mirror
	pub    events.Publisher
	reload ReloadFunc
	log    *slog.Logger

	mu       sync.Mutex
	watchers map[string]*groupWatcher
}

// New returns a Manager. reload is called after every accepted change, once
// the debounce window has elapsed.
func New(mirror *yamlmirror.Mirror, pub events.Publisher, reload ReloadFunc, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		mirror:   mirror,
		pub:      pub,
		reload:   reload,
		log:      log,
		watchers: make(map[string]*groupWatcher),
	}
}

// Watch (re)starts watching groupID's yaml file at path, replacing any
// watcher already registered for that group.
func (m *Manager) Watch(groupID, path string) error {
	m.Unwatch(groupID)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	gw := &groupWatcher{
		groupID: groupID,
		path:    path,
		filter:  filepath.Base(path),
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	gw.debouncer = watcher.NewDebouncer(debounceWindow, func(string) { m.fire(groupID, path) })

	m.mu.Lock()
	m.watchers[groupID] = gw
	m.mu.Unlock()

	go gw.run(m.mirror, m.log)
	return nil
}

// Unwatch stops and removes groupID's watcher, if any. Safe to call when
// none is registered.
func (m *Manager) Unwatch(groupID string) {
	m.mu.Lock()
	gw := m.watchers[groupID]
	delete(m.watchers, groupID)
	m.mu.Unlock()
	if gw != nil {
		gw.stop()
	}
}

// Close stops every registered watcher.
func (m *Manager) Close() {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*groupWatcher)
	m.mu.Unlock()
	for _, gw := range watchers {
		gw.stop()
	}
}

func (m *Manager) fire(groupID, path string) {
	m.pub.Publish(events.NewEvent(events.EventYamlFileChanged, events.GlobalTaskID, events.YamlFileChangedData{
		GroupID:  groupID,
		FilePath: path,
	}))
	if m.reload != nil {
		m.reload(context.Background(), groupID, path)
	}
}

// groupWatcher watches one group's yaml directory, filtered to its exact
// filename, and discards events that are echoes of the Mirror's own writes.
type groupWatcher struct {
	groupID   string
	path      string
	filter    string
	fsw       *fsnotify.Watcher
	debouncer *watcher.Debouncer

	done chan struct{}
	once sync.Once
}

func (gw *groupWatcher) run(mirror *yamlmirror.Mirror, log *slog.Logger) {
	for {
		select {
		case event, ok := <-gw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != gw.filter {
				continue
			}
			if mirror.ShouldSuppress(gw.path, time.Now()) {
				continue
			}
			gw.debouncer.Trigger(gw.path)
		case err, ok := <-gw.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("yaml watcher error", "group_id", gw.groupID, "error", err)
		case <-gw.done:
			return
		}
	}
}

func (gw *groupWatcher) stop() {
	gw.once.Do(func() {
		close(gw.done)
		gw.debouncer.Stop()
		gw.fsw.Close()
	})
}
