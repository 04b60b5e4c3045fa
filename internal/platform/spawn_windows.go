//go:build windows

package platform

import (
	"os"
	"os/exec"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/openrunner/openrunner/internal/apperr"
)

// applyProcAttr gives the child its own console process group
// (CREATE_NEW_PROCESS_GROUP). The kill-on-close job object that tears down
// the whole tree is attached afterwards by containProcess, once the pid is
// known (spec.md section 4.5).
func applyProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

var (
	jobsMu sync.Mutex
	jobs   = map[int]windows.Handle{}
)

// assignJob creates a job object configured to kill all member processes
// when its last handle closes, and assigns pid to it. Called once the
// child's pid is known.
func assignJob(pid int) error {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return apperr.Platform("create job object", err)
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return apperr.Platform("configure job object", err)
	}

	proc, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
	if err != nil {
		windows.CloseHandle(job)
		return apperr.Platform("open process for job assignment", err)
	}
	defer windows.CloseHandle(proc)

	if err := windows.AssignProcessToJobObject(job, proc); err != nil {
		windows.CloseHandle(job)
		return apperr.Platform("assign process to job object", err)
	}

	jobsMu.Lock()
	jobs[pid] = job
	jobsMu.Unlock()
	return nil
}

func containProcess(pid int) error {
	return assignJob(pid)
}

func releaseProcess(pid int) {
	releaseJob(pid)
}

func releaseJob(pid int) {
	jobsMu.Lock()
	job, ok := jobs[pid]
	if ok {
		delete(jobs, pid)
	}
	jobsMu.Unlock()
	if ok {
		windows.CloseHandle(job)
	}
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(proc)
	event, err := windows.WaitForSingleObject(proc, 0)
	return err == nil && event == uint32(windows.WAIT_TIMEOUT)
}

// GracefulShutdown sends CTRL_BREAK_EVENT to the child's process group.
// Console control events are the closest Windows equivalent to SIGTERM.
func GracefulShutdown(rootPid int) error {
	if rootPid <= 0 {
		return nil
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(rootPid)); err != nil {
		return apperr.Platform("send CTRL_BREAK_EVENT", err)
	}
	return nil
}

// ForceKill closes the job object owning rootPid, which terminates every
// process the job contains (spec.md section 4.5).
func ForceKill(rootPid int) error {
	jobsMu.Lock()
	job, ok := jobs[rootPid]
	jobsMu.Unlock()
	if !ok {
		// Fall back to terminating the single process directly.
		proc, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(rootPid))
		if err != nil {
			return nil // already gone
		}
		defer windows.CloseHandle(proc)
		return apperr.Platform("terminate process", windows.TerminateProcess(proc, 1))
	}
	if err := windows.CloseHandle(job); err != nil {
		return apperr.Platform("close job object", err)
	}
	releaseJob(rootPid)
	return nil
}

// KillOrphanedProcesses force-kills any of the given pids still alive at
// startup. No job object exists for them across a restart, so each is
// terminated directly.
func KillOrphanedProcesses(pids []int) {
	for _, pid := range pids {
		if !isProcessRunning(pid) {
			continue
		}
		proc, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
		if err != nil {
			continue
		}
		_ = windows.TerminateProcess(proc, 1)
		windows.CloseHandle(proc)
	}
}

func detectDefaultShell() string {
	if sh := os.Getenv("COMSPEC"); sh != "" {
		return sh
	}
	return "cmd.exe"
}

func windowsCommandArgs(shellPath, base, command string) ([]string, error) {
	switch base {
	case "powershell", "pwsh":
		return []string{shellPath, "-NoLogo", "-Command", command}, nil
	default:
		return []string{shellPath, "/C", command}, nil
	}
}

func defaultEditor() string {
	return "notepad.exe"
}
