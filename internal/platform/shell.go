// Package platform encapsulates OS-specific process lifecycle rules for
// openrunner: shell resolution, spawn options, signal dispatch, process-tree
// containment, and orphan cleanup (spec.md section 4.5).
package platform

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openrunner/openrunner/internal/apperr"
)

// Family identifies a shell's argument-vector conventions.
type Family int

const (
	// FamilyPosix covers bash, zsh, and fish: login + interactive + -c.
	FamilyPosix Family = iota
	// FamilyDumb covers sh/dash: only -l -c, no -i (no rc file concept).
	FamilyDumb
	// FamilyWindows covers cmd.exe and PowerShell.
	FamilyWindows
)

var shellFamilies = map[string]Family{
	"bash": FamilyPosix,
	"zsh":  FamilyPosix,
	"fish": FamilyPosix,
	"sh":   FamilyDumb,
	"dash": FamilyDumb,
}

// DetectDefaultShell resolves the user's configured or OS-default shell.
// On Unix it honors $SHELL when that file exists, otherwise the first of
// /bin/bash, /bin/zsh and /bin/sh that exists (else /bin/sh). On Windows it
// honors $COMSPEC, falling back to cmd.exe.
func DetectDefaultShell() string {
	return detectDefaultShell()
}

// CommandArgs builds the argv for invoking `command` under `shellPath`.
// Login/interactive flags (-l, -i) are added for bash/zsh/fish so user rc
// files (e.g. version managers) are loaded; dumb shells like sh/dash
// receive only -l -c (spec.md section 4.5).
func CommandArgs(shellPath, command string) ([]string, error) {
	if shellPath == "" {
		return nil, apperr.Shell("no usable shell found")
	}
	base := filepath.Base(shellPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if fam, ok := shellFamilies[base]; ok {
		switch fam {
		case FamilyPosix:
			return []string{shellPath, "-l", "-i", "-c", command}, nil
		case FamilyDumb:
			return []string{shellPath, "-l", "-c", command}, nil
		}
	}
	return windowsCommandArgs(shellPath, base, command)
}

// BuildCommand constructs the exec.Cmd for a project's shell invocation,
// applying platform-specific spawn options (process group / job object).
func BuildCommand(shellPath, command, dir string, env []string) (*exec.Cmd, error) {
	args, err := CommandArgs(shellPath, command)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	applyProcAttr(cmd)
	return cmd, nil
}

// DetectSystemEditor resolves the user's configured terminal editor, honoring
// $VISUAL then $EDITOR before falling back to a platform default.
func DetectSystemEditor() string {
	if ed := os.Getenv("VISUAL"); ed != "" {
		return ed
	}
	if ed := os.Getenv("EDITOR"); ed != "" {
		return ed
	}
	return defaultEditor()
}

// IsProcessRunning checks whether a process with the given pid still exists.
func IsProcessRunning(pid int) bool {
	return isProcessRunning(pid)
}

// ContainProcess registers a freshly spawned root pid for tree containment.
// On Windows this assigns the process to a kill-on-close job object; on
// POSIX the process group set up in applyProcAttr already provides
// containment, so this is a no-op (spec.md section 4.5).
func ContainProcess(pid int) error {
	return containProcess(pid)
}

// ReleaseProcess drops any containment state held for pid once the
// supervisor has confirmed it exited, so the handle isn't leaked.
func ReleaseProcess(pid int) {
	releaseProcess(pid)
}

// fileExists is a small local helper kept out of os for test seams.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
