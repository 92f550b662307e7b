//go:build !linux && !darwin

// Package unix provides platform-specific process group helpers.
package unix

import (
	"errors"
	"syscall"
)

// ErrUnsupported is returned where process groups are not available.
var ErrUnsupported = errors.New("process groups not supported on this platform")

// SysProcAttr returns nil; children share the parent's group.
func SysProcAttr() *syscall.SysProcAttr {
	return nil
}

// SignalGroup is not supported on this platform.
func SignalGroup(pid int, sig syscall.Signal) error {
	return ErrUnsupported
}
