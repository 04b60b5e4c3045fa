package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restartRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *restartRecorder) record(projectID, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, path)
}

func (r *restartRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWatcherFiresOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("1"), 0644))

	rec := &restartRecorder{}
	w, err := New(Config{
		ProjectID: "p1",
		WorkDir:   dir,
		Debounce:  50 * time.Millisecond,
		OnRestart: rec.record,
	})
	require.NoError(t, err)
	defer w.Stop()
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("2"), 0644))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherCoalescesBurstIntoOneRestart(t *testing.T) {
	dir := t.TempDir()
	rec := &restartRecorder{}
	w, err := New(Config{
		ProjectID: "p1",
		WorkDir:   dir,
		Debounce:  150 * time.Millisecond,
		OnRestart: rec.record,
	})
	require.NoError(t, err)
	defer w.Stop()
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte{byte(i)}, 0644))
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestWatcherIgnoresHardIgnoreDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755))

	rec := &restartRecorder{}
	w, err := New(Config{
		ProjectID: "p1",
		WorkDir:   dir,
		Debounce:  50 * time.Millisecond,
		OnRestart: rec.record,
	})
	require.NoError(t, err)
	defer w.Stop()
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestWatcherHonorsGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0644))

	rec := &restartRecorder{}
	w, err := New(Config{
		ProjectID: "p1",
		WorkDir:   dir,
		Debounce:  50 * time.Millisecond,
		OnRestart: rec.record,
	})
	require.NoError(t, err)
	defer w.Stop()
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debug.log"), []byte("x"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "gitignored file must not trigger a restart")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("x"), 0644))
	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherRequiresUserPatternMatchForFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &restartRecorder{}
	w, err := New(Config{
		ProjectID:     "p1",
		WorkDir:       dir,
		Debounce:      50 * time.Millisecond,
		WatchPatterns: []string{"*.go"},
		OnRestart:     rec.record,
	})
	require.NoError(t, err)
	defer w.Stop()
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "non-matching file must not trigger a restart when patterns are configured")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("x"), 0644))
	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherAddsNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &restartRecorder{}
	w, err := New(Config{
		ProjectID: "p1",
		WorkDir:   dir,
		Debounce:  50 * time.Millisecond,
		OnRestart: rec.record,
	})
	require.NoError(t, err)
	defer w.Stop()
	go w.Run()

	time.Sleep(50 * time.Millisecond)
	sub := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "index.js"), []byte("x"), 0644))

	assert.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 20*time.Millisecond)
}
