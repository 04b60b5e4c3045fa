package stats

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
)

type fakeSource struct {
	mu      sync.Mutex
	handles []Handle
}

func (f *fakeSource) RunningHandles() []Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Handle, len(f.handles))
	copy(out, f.handles)
	return out
}

type fakeMetricSink struct {
	mu     sync.Mutex
	points []domain.MetricPoint
}

func (f *fakeMetricSink) InsertMetric(ctx context.Context, sessionID string, cpuPercent float64, rssBytes uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, domain.MetricPoint{SessionID: sessionID, CPUPercent: cpuPercent, RSSBytes: rssBytes})
	return nil
}

func (f *fakeMetricSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func TestCollectorSamplesRunningProcessAndPublishes(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	source := &fakeSource{handles: []Handle{{ProjectID: "p1", RootPid: cmd.Process.Pid, SessionID: "s1"}}}
	sink := &fakeMetricSink{}
	pub := events.NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe(events.GlobalTaskID)

	c := New(source, sink, pub, nil, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Start(ctx)
	defer func() {
		cancel()
		c.Stop()
	}()

	select {
	case evt := <-ch:
		assert.Equal(t, events.EventProcessStatsUpdated, evt.Type)
		infos, ok := evt.Data.([]domain.ProcessInfo)
		require.True(t, ok)
		require.Len(t, infos, 1)
		assert.Equal(t, "p1", infos[0].ProjectID)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a stats_updated event")
	}

	assert.Eventually(t, func() bool { return sink.count() > 0 }, 2*time.Second, 50*time.Millisecond)

	snap := c.Snapshot()
	require.Contains(t, snap, "p1")
}

func TestCollectorSkipsDeadPidWithoutPanicking(t *testing.T) {
	source := &fakeSource{handles: []Handle{{ProjectID: "dead", RootPid: 999999}}}
	sink := &fakeMetricSink{}
	pub := events.NewMemoryPublisher()
	defer pub.Close()

	c := New(source, sink, pub, nil, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.tick(ctx)
	assert.Empty(t, c.Snapshot())
	assert.Equal(t, 0, sink.count())
}

func TestCollectorNoHandlesIsNoop(t *testing.T) {
	source := &fakeSource{}
	c := New(source, nil, events.NewNopPublisher(), nil, time.Second)
	c.tick(context.Background())
	assert.Empty(t, c.Snapshot())
}
