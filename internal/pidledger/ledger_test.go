package pidledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrunner/openrunner/internal/platform"
)

func TestAddRemovePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphans.pid")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Add(111))
	require.NoError(t, l.Add(222))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{111, 222}, reopened.Pids())

	require.NoError(t, l.Remove(111))
	reopened2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []int{222}, reopened2.Pids())
}

func TestOpenMissingFileIsEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.pid")
	l, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, l.Pids())
}

func TestClearTruncatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphans.pid")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Add(1))
	require.NoError(t, l.Clear())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, reopened.Pids())
}

func TestReapOrphansKillsLiveProcessesAndClearsLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphans.pid")
	l, err := Open(path)
	require.NoError(t, err)

	// Spawned the way the supervisor spawns, so the pid leads its own process
	// group: ReapOrphans kills ledger pids by process group.
	cmd, err := platform.BuildCommand("/bin/sh", "exec /bin/sleep 30", t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	require.NoError(t, l.Add(cmd.Process.Pid))

	reaped, err := ReapOrphans(path)
	require.NoError(t, err)
	assert.Contains(t, reaped, cmd.Process.Pid)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, reopened.Pids())

	assert.Error(t, cmd.Wait(), "a reaped process is killed, not left to run to completion")
}
