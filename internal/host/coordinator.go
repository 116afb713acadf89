package host

import (
	"context"
	"sync"

	"github.com/papapumpkin/inkwell/internal/logging"
)

// Coordinator sits between the scheduler and a Host. It makes lock
// acquisition idempotent, defers conflicting transitions requested while
// a batch holds the lock, and reports when restricted mode ends so
// deferred changes can be processed on the next tick.
type Coordinator struct {
	host   Host
	logger *logging.Logger

	mu          sync.Mutex
	locked      bool
	restricted  bool
	unblocked   bool
	deferred    []Transition
	onUnblocked []func(context.Context) error
	onApply     []func(Transition)
}

// NewCoordinator wraps h.
func NewCoordinator(h Host, logger *logging.Logger) *Coordinator {
	return &Coordinator{host: h, logger: logging.OrDiscard(logger)}
}

// Host returns the wrapped host.
func (c *Coordinator) Host() Host { return c.host }

// AcquireLock takes the host build lock. Repeated calls while held are
// no-ops.
func (c *Coordinator) AcquireLock() {
	c.mu.Lock()
	if c.locked {
		c.mu.Unlock()
		return
	}
	c.locked = true
	c.mu.Unlock()

	c.host.AcquireLock()
	c.logger.Debug("build lock acquired")
}

// LockReady reports whether the host build lock is actually held. Hosts
// that take it synchronously are always ready.
func (c *Coordinator) LockReady() bool {
	if w, ok := c.host.(LockWaiter); ok {
		return w.LockReady()
	}
	return true
}

// ReleaseLock gives the host build lock back and applies every
// transition deferred while it was held, in request order.
func (c *Coordinator) ReleaseLock() {
	c.mu.Lock()
	if !c.locked {
		c.mu.Unlock()
		return
	}
	c.locked = false
	deferred := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	c.host.ReleaseLock()
	c.logger.Debug("build lock released", "deferred", len(deferred))
	for _, t := range deferred {
		c.apply(t)
	}
}

// RegisterArtifact forwards a freshly written artifact to the host.
func (c *Coordinator) RegisterArtifact(path string) {
	c.host.RegisterArtifact(path)
}

// Locked reports whether a batch holds the build lock.
func (c *Coordinator) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Restricted reports whether changes must be deferred.
func (c *Coordinator) Restricted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restricted
}

// RequestTransition asks to change host mode. While the build lock is
// held the transition is deferred until ReleaseLock and false is
// returned; otherwise it is applied at once.
func (c *Coordinator) RequestTransition(t Transition) bool {
	c.mu.Lock()
	if c.locked {
		c.deferred = append(c.deferred, t)
		c.mu.Unlock()
		c.logger.Info("deferring host transition until the build completes", "transition", t)
		return false
	}
	c.mu.Unlock()
	c.apply(t)
	return true
}

// NotifyTransition records a transition the host performed on its own.
// One that happens while the build lock is held is a protocol violation:
// it is logged and the new mode is recorded anyway.
func (c *Coordinator) NotifyTransition(t Transition) {
	if c.Locked() {
		c.logger.Error("host changed mode while a build held the lock",
			"transition", t,
			"error", ErrProtocolViolation,
		)
	}
	c.apply(t)
}

// OnUnblocked registers fn to run on the first Tick after restricted
// mode ends.
func (c *Coordinator) OnUnblocked(fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnblocked = append(c.onUnblocked, fn)
}

// OnApply registers fn to observe every applied transition.
func (c *Coordinator) OnApply(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onApply = append(c.onApply, fn)
}

// Tick runs the unblocked hooks once after restricted mode has ended.
// It must be called from the control loop.
func (c *Coordinator) Tick(ctx context.Context) {
	c.mu.Lock()
	if !c.unblocked || c.restricted {
		c.mu.Unlock()
		return
	}
	c.unblocked = false
	hooks := append(([]func(context.Context) error)(nil), c.onUnblocked...)
	c.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			c.logger.Warn("unblocked hook failed", "error", err)
		}
	}
}

func (c *Coordinator) apply(t Transition) {
	c.mu.Lock()
	switch t {
	case EnterRestricted:
		c.restricted = true
	case ExitRestricted:
		if c.restricted {
			c.unblocked = true
		}
		c.restricted = false
	}
	observers := append(([]func(Transition))(nil), c.onApply...)
	c.mu.Unlock()

	c.logger.Info("host transition applied", "transition", t)
	for _, fn := range observers {
		fn(t)
	}
}
