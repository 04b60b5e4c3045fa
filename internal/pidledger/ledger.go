// Package pidledger persists the set of live root pids the supervisor is
// responsible for, so a crashed or killed daemon can reap its orphaned
// process trees on the next launch (spec.md section 4.4, section 6).
package pidledger

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/platform"
	"github.com/openrunner/openrunner/internal/util"
)

// Ledger is a plain-text file, one decimal pid per line, truncated on clean
// shutdown. It mirrors the supervisor's live child-process map so the next
// launch can find pids that outlived their supervisor.
type Ledger struct {
	mu   sync.Mutex
	path string
	pids map[int]bool
}

// Open loads an existing ledger file (if any) into memory. A missing file
// is treated as an empty ledger, not an error.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, pids: make(map[int]bool)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, apperr.Storage("open pid ledger", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		l.pids[pid] = true
	}
	return l, nil
}

// Add records pid as live and persists the ledger.
func (l *Ledger) Add(pid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pids[pid] = true
	return l.flushLocked()
}

// Remove drops pid once the supervisor has confirmed it exited.
func (l *Ledger) Remove(pid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pids, pid)
	return l.flushLocked()
}

// Pids returns every pid currently recorded.
func (l *Ledger) Pids() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.pids))
	for pid := range l.pids {
		out = append(out, pid)
	}
	return out
}

// Clear truncates the ledger file on a clean shutdown.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pids = make(map[int]bool)
	return l.flushLocked()
}

func (l *Ledger) flushLocked() error {
	var buf bytes.Buffer
	for pid := range l.pids {
		fmt.Fprintf(&buf, "%d\n", pid)
	}
	if err := util.AtomicWriteFile(l.path, buf.Bytes(), 0644); err != nil {
		return apperr.Storage("write pid ledger", err)
	}
	return nil
}

// ReapOrphans force-kills every pid in the ledger that is still alive, then
// clears the ledger. Call once at daemon startup, before any new spawn is
// permitted (spec.md section 4.4).
func ReapOrphans(path string) ([]int, error) {
	l, err := Open(path)
	if err != nil {
		return nil, err
	}

	pids := l.Pids()
	var reaped []int
	for _, pid := range pids {
		if platform.IsProcessRunning(pid) {
			reaped = append(reaped, pid)
		}
	}
	platform.KillOrphanedProcesses(pids)

	if err := l.Clear(); err != nil {
		return reaped, err
	}
	return reaped, nil
}
