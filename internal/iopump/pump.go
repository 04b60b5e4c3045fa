// Package iopump runs the per-child reader/writer goroutines that bridge a
// spawned process's stdio to the Session/Log/Metric Store and the event bus
// (spec.md section 4.6).
package iopump

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/domain"
	"github.com/openrunner/openrunner/internal/events"
)

// readBufSize bounds one Read() call. No line buffering is imposed — a
// partial read is forwarded verbatim so ANSI progress bars render correctly
// (spec.md section 4.6).
const readBufSize = 32 * 1024

// Sink receives each chunk a pump produces, for storage and event push.
// Implementations must not block for long: the pump's own goroutine calls
// this inline per read.
type Sink interface {
	// OnChunk is called once per LogChunk read from the child.
	OnChunk(chunk domain.LogChunk)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(domain.LogChunk)

func (f SinkFunc) OnChunk(chunk domain.LogChunk) { f(chunk) }

// Pipe is the default (non-interactive) mode: two background readers
// consume the child's stdout and stderr independently.
type Pipe struct {
	sessionID string
	log       *slog.Logger
	sink      Sink

	wg sync.WaitGroup
}

// NewPipe starts stdout/stderr readers for cmd. cmd's Stdout/Stderr fields
// must be unset; NewPipe wires its own pipes. Returns once both readers are
// running.
func NewPipe(cmd *exec.Cmd, sessionID string, sink Sink, log *slog.Logger) (*Pipe, error) {
	if log == nil {
		log = slog.Default()
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Spawn("attach stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperr.Spawn("attach stderr pipe", err)
	}

	p := &Pipe{sessionID: sessionID, log: log, sink: sink}
	p.wg.Add(2)
	go p.pump(stdout, domain.StreamStdout)
	go p.pump(stderr, domain.StreamStderr)
	return p, nil
}

func (p *Pipe) pump(r io.Reader, stream domain.LogStream) {
	defer p.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.sink.OnChunk(domain.LogChunk{
				SessionID: p.sessionID,
				Stream:    stream,
				Data:      data,
				Timestamp: time.Now(),
			})
		}
		if err != nil {
			if err != io.EOF {
				p.log.Warn("io pump read error", "session_id", p.sessionID, "stream", stream, "error", err)
			}
			return
		}
	}
}

// Wait blocks until both readers have observed EOF or an error. Callers
// should call this after the child exits to know all output has been
// forwarded.
func (p *Pipe) Wait() { p.wg.Wait() }

// PTY is the interactive mode: one pseudo-terminal multiplexes the child's
// combined output, and accepts stdin writes plus resize requests.
type PTY struct {
	sessionID string
	log       *slog.Logger
	sink      Sink

	master *os.File
	wg     sync.WaitGroup
}

// StartPTY allocates a PTY, attaches it as cmd's controlling terminal, and
// starts cmd. The caller owns closing the returned PTY once the child exits.
func StartPTY(cmd *exec.Cmd, sessionID string, sink Sink, log *slog.Logger) (*PTY, error) {
	if log == nil {
		log = slog.Default()
	}
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, apperr.Spawn("start pty", err)
	}

	p := &PTY{sessionID: sessionID, log: log, sink: sink, master: master}
	p.wg.Add(1)
	go p.pump()
	return p, nil
}

func (p *PTY) pump() {
	defer p.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.sink.OnChunk(domain.LogChunk{
				SessionID: p.sessionID,
				Stream:    domain.StreamStdout,
				Data:      data,
				Timestamp: time.Now(),
			})
		}
		if err != nil {
			if err != io.EOF {
				p.log.Warn("pty read error", "session_id", p.sessionID, "error", err)
			}
			return
		}
	}
}

// WriteStdin forwards bytes to the child's stdin. Stdin is never logged to
// the session (spec.md section 4.6) — only the read side produces chunks.
func (p *PTY) WriteStdin(data []byte) error {
	_, err := p.master.Write(data)
	if err != nil {
		return apperr.Platform("write pty stdin", err)
	}
	return nil
}

// Resize applies a new terminal size.
func (p *PTY) Resize(cols, rows uint16) error {
	if err := pty.Setsize(p.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return apperr.Platform("resize pty", err)
	}
	return nil
}

// Wait blocks until the reader has observed EOF or an error.
func (p *PTY) Wait() { p.wg.Wait() }

// Close releases the PTY master end.
func (p *PTY) Close() error { return p.master.Close() }

// EmitLogEvent wraps a LogChunk as a process_log event for the publisher.
func EmitLogEvent(pub events.Publisher, projectID string, chunk domain.LogChunk) {
	pub.Publish(events.NewEvent(events.EventProcessLog, projectID, events.ProcessLogData{
		ProjectID: projectID,
		Stream:    chunk.Stream,
		Data:      string(chunk.Data),
		Timestamp: chunk.Timestamp,
	}))
}
