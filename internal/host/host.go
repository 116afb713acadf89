// Package host coordinates compile batches with the environment that
// runs them: the build lock, artifact registration and mode transitions
// that must not happen while a batch is in flight.
package host

import (
	"context"
	"errors"
)

var (
	// ErrLockHeld indicates another process holds the build lock.
	ErrLockHeld = errors.New("build lock held by another process")
	// ErrProtocolViolation marks a conflicting transition reported while
	// the build lock was held.
	ErrProtocolViolation = errors.New("host transition during build")
)

// Host is the environment a session runs in.
type Host interface {
	// OnTick registers fn to run on every tick of the host's control loop.
	OnTick(fn func(context.Context))
	AcquireLock()
	ReleaseLock()
	RegisterArtifact(path string)
}

// LockWaiter is implemented by hosts whose AcquireLock can return before
// the lock is held. LockReady reports whether it is held now; callers
// poll it from the control loop and start no work until it is true.
type LockWaiter interface {
	LockReady() bool
}

// Transition is a host mode change that conflicts with a running build.
type Transition string

const (
	// EnterRestricted pauses change processing; changes are deferred.
	EnterRestricted Transition = "enter-restricted"
	// ExitRestricted resumes change processing.
	ExitRestricted Transition = "exit-restricted"
	// Reload asks the host to reload everything it has loaded.
	Reload Transition = "reload"
)
