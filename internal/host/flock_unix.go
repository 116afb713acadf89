//go:build !windows

package host

import (
	"os"
	"syscall"
)

const errWouldBlock = syscall.EWOULDBLOCK

// lockFile takes an exclusive lock without waiting for it.
func lockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
