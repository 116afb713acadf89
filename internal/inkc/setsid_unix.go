//go:build !windows

package inkc

import "syscall"

// sessionAttr places the compiler in its own session so it cannot reach
// the parent's controlling terminal.
func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
