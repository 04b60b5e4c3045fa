package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreSetHardIgnoreAnywhereInPath(t *testing.T) {
	set := &ignoreSet{}
	assert.True(t, set.matches("/repo/app/node_modules/x.js", false))
	assert.True(t, set.matches("/repo/.git/HEAD", false))
	assert.False(t, set.matches("/repo/src/x.js", false))
}

func TestLoadIgnoreSetAnchoredPattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("/out\n"), 0644))

	set := loadIgnoreSet(dir, dir)
	assert.True(t, set.matches(filepath.Join(dir, "out"), true))
	assert.False(t, set.matches(filepath.Join(dir, "sub", "out"), true), "anchored pattern only matches at the gitignore's own directory")
}

func TestLoadIgnoreSetBareNameMatchesAnyDepth(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0644))

	set := loadIgnoreSet(dir, dir)
	assert.True(t, set.matches(filepath.Join(dir, "debug.log"), false))
	assert.True(t, set.matches(filepath.Join(dir, "a", "b", "debug.log"), false))
	assert.False(t, set.matches(filepath.Join(dir, "debug.txt"), false))
}

func TestLoadIgnoreSetDirOnlyPattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("tmp/\n"), 0644))

	set := loadIgnoreSet(dir, dir)
	assert.True(t, set.matches(filepath.Join(dir, "tmp"), true))
	assert.False(t, set.matches(filepath.Join(dir, "tmp"), false), "dir-only pattern must not match a plain file")
}

func TestLoadIgnoreSetCollectsAncestorGitignoresUpToGroupDir(t *testing.T) {
	groupDir := t.TempDir()
	workDir := filepath.Join(groupDir, "services", "api")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(groupDir, ".gitignore"), []byte("*.env\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, ".gitignore"), []byte("*.local\n"), 0644))

	set := loadIgnoreSet(workDir, groupDir)
	assert.True(t, set.matches(filepath.Join(workDir, "secrets.env"), false), "group-level gitignore must apply to the project working dir")
	assert.True(t, set.matches(filepath.Join(workDir, "x.local"), false))
}
