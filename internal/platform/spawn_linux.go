//go:build linux

package platform

import "syscall"

// setDeathSignal configures the spawned shell so that if the supervisor
// dies unexpectedly, the kernel sends the child SIGKILL (spec.md section
// 4.5, "Linux-only hardening"). Only Linux exposes Pdeathsig.
func setDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGKILL
}
