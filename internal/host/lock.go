package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = "build.lock"

// FileLock is a cross-process build lock (flock(2), LockFileEx on
// Windows), so two inkwell processes never compile the same tree at once.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns a FileLock on dir/build.lock.
func NewFileLock(dir string) *FileLock {
	return &FileLock{path: filepath.Join(dir, lockFileName)}
}

// Path returns the lock file location.
func (fl *FileLock) Path() string { return fl.path }

// TryLock acquires the lock without blocking. It returns ErrLockHeld
// when another holder has it. The lock file and its directory are
// created if needed.
func (fl *FileLock) TryLock() error {
	f, err := fl.open()
	if err != nil {
		return err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return ErrLockHeld
		}
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	if err := unlockFile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}

// Held reports whether this FileLock currently holds the lock.
func (fl *FileLock) Held() bool { return fl.file != nil }

func (fl *FileLock) open() (*os.File, error) {
	if fl.file != nil {
		return nil, fmt.Errorf("lock %s already held", fl.path)
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
