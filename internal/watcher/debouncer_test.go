package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	d := NewDebouncer(80*time.Millisecond, func(path string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, path)
	})

	d.Trigger("a")
	time.Sleep(20 * time.Millisecond)
	d.Trigger("b")
	time.Sleep(20 * time.Millisecond)
	d.Trigger("c")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c"}, calls, "only the last path in the burst survives")
}

func TestDebouncerStopPreventsFire(t *testing.T) {
	var mu sync.Mutex
	fired := false

	d := NewDebouncer(30*time.Millisecond, func(path string) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
	})
	d.Trigger("a")
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}
