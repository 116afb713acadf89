package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileLock(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "state")
	fl := NewFileLock(dir)

	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock without Lock should be a no-op: %v", err)
	}
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := os.Stat(fl.Path()); err != nil {
		t.Errorf("lock file should exist: %v", err)
	}
	if err := fl.TryLock(); err == nil {
		t.Error("TryLock on a held FileLock should fail")
	}

	// flock is per open file description, so a second FileLock in the
	// same process contends like another process would.
	other := NewFileLock(dir)
	if err := other.TryLock(); !errors.Is(err, ErrLockHeld) {
		t.Errorf("TryLock from a second holder = %v, want ErrLockHeld", err)
	}

	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := other.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	if err := other.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestStandalone_LockAndArtifacts(t *testing.T) {
	t.Parallel()
	s := NewStandalone(t.TempDir(), time.Millisecond, nil)

	s.AcquireLock()
	if !s.LockHeld() {
		t.Fatal("expected the build lock to be held")
	}
	s.RegisterArtifact("/story/main.json")
	s.ReleaseLock()
	if s.LockHeld() {
		t.Error("expected the build lock to be released")
	}
	if got := s.Artifacts(); len(got) != 1 || got[0] != "/story/main.json" {
		t.Errorf("Artifacts() = %v", got)
	}
}

func TestStandalone_WaitsForHeldLockWithoutBlocking(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	other := NewFileLock(dir)
	if err := other.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	s := NewStandalone(dir, time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		s.AcquireLock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("AcquireLock blocked on a lock held elsewhere")
	}
	if s.LockReady() || s.LockHeld() {
		t.Fatal("lock reported ready while another holder has it")
	}

	if err := other.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !s.LockReady() || !s.LockHeld() {
		t.Fatal("lock should be taken on the first poll after release")
	}
	s.ReleaseLock()
	if s.LockHeld() {
		t.Error("expected the build lock to be released")
	}
}

func TestStandalone_ReleaseWhileWaiting(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	other := NewFileLock(dir)
	if err := other.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	t.Cleanup(func() { _ = other.Unlock() })
	s := NewStandalone(dir, time.Millisecond, nil)

	s.AcquireLock()
	s.ReleaseLock()
	if !s.LockReady() {
		t.Error("a host that gave up waiting should not report a pending lock")
	}
	if s.LockHeld() {
		t.Error("LockReady after release must not take the lock")
	}
}

func TestStandalone_Run(t *testing.T) {
	t.Parallel()
	s := NewStandalone(t.TempDir(), time.Millisecond, nil)
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s.OnTick(func(context.Context) {
		if ticks.Add(1) == 3 {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if ticks.Load() < 3 {
		t.Errorf("ticked %d times, want at least 3", ticks.Load())
	}
}
