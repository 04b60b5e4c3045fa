// Package stats runs the process-wide sampler that turns root pids into
// CPU/RSS snapshots for the UI and the Session/Log/Metric Store
// (spec.md section 4.7).
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
)

// defaultInterval is the nominal sampling cadence (spec.md section 4.7).
const defaultInterval = 2 * time.Second

// Handle is one running project the collector must sample: its root pid
// and the session currently receiving MetricPoint appends, if any.
type Handle struct {
	ProjectID string
	RootPid   int
	SessionID string
}

// Source supplies the set of handles to sample on each tick. The
// supervisor implements this over its live child-process map.
type Source interface {
	RunningHandles() []Handle
}

// MetricSink persists one sample against its project's active session.
type MetricSink interface {
	InsertMetric(ctx context.Context, sessionID string, cpuPercent float64, rssBytes uint64) error
}

// Collector owns the 2-second sampling loop.
type Collector struct {
	source   Source
	metrics  MetricSink
	pub      events.Publisher
	log      *slog.Logger
	interval time.Duration

	mu       sync.RWMutex
	snapshot map[string]domain.ProcessInfo

	stop chan struct{}
	done chan struct{}
}

// New constructs a Collector. interval <= 0 uses the spec default.
func New(source Source, metrics MetricSink, pub events.Publisher, log *slog.Logger, interval time.Duration) *Collector {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Collector{
		source:   source,
		metrics:  metrics,
		pub:      pub,
		log:      log,
		interval: interval,
		snapshot: make(map[string]domain.ProcessInfo),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sampling loop until ctx is canceled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// Stop ends the sampling loop and waits for the in-flight tick to finish.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

// Snapshot returns the most recent ProcessInfo for every sampled project.
func (c *Collector) Snapshot() map[string]domain.ProcessInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.ProcessInfo, len(c.snapshot))
	for k, v := range c.snapshot {
		out[k] = v
	}
	return out
}

func (c *Collector) tick(ctx context.Context) {
	handles := c.source.RunningHandles()
	if len(handles) == 0 {
		return
	}

	infos := make([]domain.ProcessInfo, 0, len(handles))
	for _, h := range handles {
		info, ok := c.sampleTree(h)
		if !ok {
			// Missing per-pid reading skips this subtree only
			// (spec.md section 4.7).
			c.log.Debug("stats sample skipped", "project_id", h.ProjectID, "pid", h.RootPid)
			continue
		}
		infos = append(infos, info)

		c.mu.Lock()
		c.snapshot[h.ProjectID] = info
		c.mu.Unlock()

		if h.SessionID != "" && c.metrics != nil {
			if err := c.metrics.InsertMetric(ctx, h.SessionID, info.CPUPercent, info.RSSBytes); err != nil {
				c.log.Warn("insert metric failed", "project_id", h.ProjectID, "error", err)
			}
		}
	}

	if len(infos) > 0 && c.pub != nil {
		c.pub.Publish(events.NewEvent(events.EventProcessStatsUpdated, events.GlobalTaskID, infos))
	}
}

// sampleTree walks the descendant set of rootPid (BFS parent->children) and
// sums per-pid CPU percent and RSS. Returns ok=false if the root pid itself
// cannot be read (already exited, or permission denied).
func (c *Collector) sampleTree(h Handle) (domain.ProcessInfo, bool) {
	root, err := gopsprocess.NewProcess(int32(h.RootPid))
	if err != nil {
		return domain.ProcessInfo{}, false
	}

	var totalCPU float64
	var totalRSS uint64

	queue := []*gopsprocess.Process{root}
	seen := map[int32]bool{int32(h.RootPid): true}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		if cpu, err := p.CPUPercent(); err == nil {
			totalCPU += cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			totalRSS += mem.RSS
		}

		children, err := p.Children()
		if err != nil {
			continue
		}
		for _, child := range children {
			if seen[child.Pid] {
				continue
			}
			seen[child.Pid] = true
			queue = append(queue, child)
		}
	}

	return domain.ProcessInfo{
		ProjectID:  h.ProjectID,
		Status:     domain.StatusRunning,
		Pid:        h.RootPid,
		CPUPercent: totalCPU,
		RSSBytes:   totalRSS,
	}, true
}
