package sessionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openrunner/openrunner/internal/domain"
)

// LogBatcher keeps the I/O pump from waiting on a DB round trip: Add only
// appends to an in-memory queue, and a background loop writes the queued
// chunks once per flush interval. Each chunk is still written by its own
// InsertLog call; a flush does not share one transaction across chunks.
type LogBatcher struct {
	store    *Store
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	pending []domain.LogChunk

	stop chan struct{}
	done chan struct{}
}

// NewLogBatcher starts a background flush loop. Call Close to flush and
// stop it.
func NewLogBatcher(store *Store, log *slog.Logger, interval time.Duration) *LogBatcher {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	b := &LogBatcher{
		store:    store,
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Add enqueues a log chunk for the next flush. Ordering within a
// (session, stream) pair is preserved because Add only appends.
func (b *LogBatcher) Add(chunk domain.LogChunk) {
	b.mu.Lock()
	b.pending = append(b.pending, chunk)
	b.mu.Unlock()
}

func (b *LogBatcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stop:
			b.flush()
			return
		}
	}
}

func (b *LogBatcher) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, chunk := range batch {
		if err := b.store.InsertLog(context.Background(), chunk.SessionID, chunk.Stream, chunk.Data, chunk.Timestamp); err != nil {
			// Database errors during log insert are logged and swallowed
			// (spec.md section 7): a write failure must never stop the pump.
			b.log.Warn("insert log chunk failed", "session_id", chunk.SessionID, "error", err)
		}
	}
}

// Close flushes any pending chunks and stops the background loop.
func (b *LogBatcher) Close() {
	close(b.stop)
	<-b.done
}
