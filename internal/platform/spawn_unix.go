//go:build !windows

package platform

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/openrunner/openrunner/internal/apperr"
)

// applyProcAttr detaches the child into its own process group, so the group
// id equals the root pid; this lets the supervisor signal the whole tree by
// its negative pid (spec.md section 4.5).
func applyProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	setDeathSignal(cmd.SysProcAttr)
}

// containProcess is a no-op on POSIX: Setpgid in applyProcAttr already
// makes the root pid a process-group leader, which is all GracefulShutdown
// and ForceKill need.
func containProcess(pid int) error { return nil }

func releaseProcess(pid int) {}

// isProcessRunning sends signal 0, which checks existence without delivering
// a real signal.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// GracefulShutdown sends SIGTERM to the entire process group.
func GracefulShutdown(rootPid int) error {
	if rootPid <= 0 {
		return nil
	}
	if err := syscall.Kill(-rootPid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return apperr.Platform("send SIGTERM to process group", err)
	}
	return nil
}

// ForceKill sends SIGKILL to the entire process group.
func ForceKill(rootPid int) error {
	if rootPid <= 0 {
		return nil
	}
	if err := syscall.Kill(-rootPid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return apperr.Platform("send SIGKILL to process group", err)
	}
	return nil
}

// KillOrphanedProcesses force-kills any of the given pids that are still
// alive, treating each as a process-group leader. Used during startup
// orphan reaping (spec.md section 4.4).
func KillOrphanedProcesses(pids []int) {
	for _, pid := range pids {
		if isProcessRunning(pid) {
			_ = ForceKill(pid)
			// Give the kernel a moment to reap before the caller re-checks.
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func detectDefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" && fileExists(sh) {
		return sh
	}
	for _, candidate := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if fileExists(candidate) {
			return candidate
		}
	}
	return "/bin/sh"
}

func windowsCommandArgs(shellPath, base, command string) ([]string, error) {
	// Unrecognized shell on a Unix host: fall back to a bare -c invocation
	// (no -l) rather than erroring, since most Unix shells accept -c.
	return []string{shellPath, "-c", command}, nil
}

func defaultEditor() string {
	for _, candidate := range []string{"/usr/bin/nano", "/usr/bin/vi", "/bin/vi"} {
		if fileExists(candidate) {
			return candidate
		}
	}
	return "vi"
}
