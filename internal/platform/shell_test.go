package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandArgsPosixShell(t *testing.T) {
	args, err := CommandArgs("/bin/bash", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/bash", "-l", "-i", "-c", "echo hi"}, args)
}

func TestCommandArgsDumbShell(t *testing.T) {
	args, err := CommandArgs("/bin/sh", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-l", "-c", "echo hi"}, args)
}

func TestCommandArgsZsh(t *testing.T) {
	args, err := CommandArgs("/usr/bin/zsh", "make build")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/zsh", "-l", "-i", "-c", "make build"}, args)
}

func TestCommandArgsEmptyShellPath(t *testing.T) {
	_, err := CommandArgs("", "echo hi")
	assert.Error(t, err)
}

func TestIsProcessRunningInvalidPid(t *testing.T) {
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-1))
}

func TestBuildCommandUsesShellAndDir(t *testing.T) {
	cmd, err := BuildCommand("/bin/sh", "echo hi", "/tmp", []string{"FOO=bar"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp", cmd.Dir)
	assert.Contains(t, cmd.Args, "echo hi")
}
