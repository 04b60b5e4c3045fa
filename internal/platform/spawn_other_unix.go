//go:build !windows && !linux

package platform

import "syscall"

// setDeathSignal is a no-op outside Linux: Pdeathsig has no equivalent on
// darwin/bsd, so a crashed supervisor relies on orphan reaping at next
// launch instead (spec.md section 4.4).
func setDeathSignal(attr *syscall.SysProcAttr) {}
