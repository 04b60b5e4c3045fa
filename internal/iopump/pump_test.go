package iopump

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks []domain.LogChunk
}

func (r *recordingSink) OnChunk(c domain.LogChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *recordingSink) all() []domain.LogChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LogChunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func TestPipeCapturesStdoutAndStderr(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "echo out; echo err 1>&2")
	sink := &recordingSink{}

	p, err := NewPipe(cmd, "sess-1", sink, nil)
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	p.Wait()
	require.NoError(t, cmd.Wait())

	chunks := sink.all()
	require.NotEmpty(t, chunks)

	var sawStdout, sawStderr bool
	for _, c := range chunks {
		assert.Equal(t, "sess-1", c.SessionID)
		if c.Stream == domain.StreamStdout {
			sawStdout = true
		}
		if c.Stream == domain.StreamStderr {
			sawStderr = true
		}
	}
	assert.True(t, sawStdout)
	assert.True(t, sawStderr)
}

func TestPipeForwardsPartialLinesVerbatim(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "printf 'no-newline'")
	sink := &recordingSink{}
	p, err := NewPipe(cmd, "sess-2", sink, nil)
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	p.Wait()
	require.NoError(t, cmd.Wait())

	var out string
	for _, c := range sink.all() {
		out += string(c.Data)
	}
	assert.Equal(t, "no-newline", out)
}

func TestPTYEchoesStdinToLog(t *testing.T) {
	if testing.Short() {
		t.Skip("pty allocation unavailable in short mode")
	}
	cmd := exec.Command("/bin/cat")
	sink := &recordingSink{}
	p, err := StartPTY(cmd, "sess-3", sink, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.WriteStdin([]byte("hi\n")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range sink.all() {
			if string(c.Data) == "hi\r\n" || string(c.Data) == "hi\n" {
				_ = cmd.Process.Kill()
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = cmd.Process.Kill()
	t.Fatal("expected echoed input in captured log output")
}
