package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/papapumpkin/inkwell/internal/logging"
)

// Standalone is the host used by the command line: a ticker-driven
// control loop and a flock-based build lock in the state directory.
type Standalone struct {
	interval time.Duration
	lock     *FileLock
	logger   *logging.Logger

	mu        sync.Mutex
	ticks     []func(context.Context)
	artifacts []string
	waiting   bool
}

// NewStandalone creates a Standalone host that ticks every interval and
// keeps its build lock in stateDir.
func NewStandalone(stateDir string, interval time.Duration, logger *logging.Logger) *Standalone {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Standalone{
		interval: interval,
		lock:     NewFileLock(stateDir),
		logger:   logging.OrDiscard(logger),
	}
}

// OnTick implements Host.
func (s *Standalone) OnTick(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, fn)
}

// Tick runs every registered tick function once.
func (s *Standalone) Tick(ctx context.Context) {
	s.mu.Lock()
	fns := append(([]func(context.Context))(nil), s.ticks...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// Run ticks until ctx is cancelled. Cancellation is a clean stop.
func (s *Standalone) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// AcquireLock takes the cross-process build lock if it is free. When
// another inkwell process holds it, AcquireLock returns at once and
// LockReady keeps trying on later ticks.
func (s *Standalone) AcquireLock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lock.TryLock()
	switch {
	case err == nil:
	case errors.Is(err, ErrLockHeld):
		s.waiting = true
		s.logger.Info("waiting for build lock", "path", s.lock.Path())
	default:
		s.logger.Warn("could not take build lock; compiling without it", "path", s.lock.Path(), "error", err)
	}
}

// LockReady implements LockWaiter.
func (s *Standalone) LockReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting {
		return true
	}
	err := s.lock.TryLock()
	switch {
	case err == nil:
		s.logger.Info("build lock acquired", "path", s.lock.Path())
	case errors.Is(err, ErrLockHeld):
		return false
	default:
		s.logger.Warn("could not take build lock; compiling without it", "path", s.lock.Path(), "error", err)
	}
	s.waiting = false
	return true
}

// ReleaseLock releases the cross-process build lock, or stops waiting
// for it.
func (s *Standalone) ReleaseLock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = false
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("could not release build lock", "path", s.lock.Path(), "error", err)
	}
}

// RegisterArtifact records a freshly written artifact.
func (s *Standalone) RegisterArtifact(path string) {
	s.mu.Lock()
	s.artifacts = append(s.artifacts, path)
	s.mu.Unlock()
	s.logger.Info("artifact registered", "path", path)
}

// Artifacts returns every artifact registered so far.
func (s *Standalone) Artifacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.artifacts...)
}

// LockHeld reports whether this host holds the build lock.
func (s *Standalone) LockHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Held()
}
