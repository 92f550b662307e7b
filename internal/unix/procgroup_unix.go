//go:build linux || darwin

// Package unix provides platform-specific process group helpers.
package unix

import (
	"errors"
	"syscall"
)

// SysProcAttr starts the child as the leader of a new process group so
// a signal reaches everything it forked.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// SignalGroup sends sig to the process group led by pid. A group that
// no longer exists is not an error.
func SignalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.EINVAL
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
