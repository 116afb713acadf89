//go:build windows

package inkc

import "syscall"

func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
