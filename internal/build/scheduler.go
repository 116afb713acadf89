package build

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/papapumpkin/inkwell/internal/logging"
	"github.com/papapumpkin/inkwell/internal/source"
)

var (
	// ErrDuplicateJob indicates a target already has a queued or compiling job.
	ErrDuplicateJob = errors.New("compile job already live for target")
	// ErrDanglingJob indicates a saved job names a file the registry does not track.
	ErrDanglingJob = errors.New("saved job references an untracked file")
)

// Host is the environment a batch runs in. The scheduler holds the host
// lock from the moment a batch gains its first job until the batch has
// been aggregated.
type Host interface {
	AcquireLock()
	ReleaseLock()
	RegisterArtifact(path string)
}

// lockWaiter is implemented by hosts whose AcquireLock can return before
// the lock is held. No job starts until LockReady reports true.
type lockWaiter interface {
	LockReady() bool
}

// Policy decides whether a master compiles automatically after a change.
type Policy interface {
	AutoCompile(master string) bool
}

// StaticPolicy applies a global default with per-master overrides.
type StaticPolicy struct {
	Default   bool
	Overrides map[string]bool
}

// AutoCompile implements Policy.
func (p StaticPolicy) AutoCompile(master string) bool {
	if v, ok := p.Overrides[master]; ok {
		return v
	}
	return p.Default
}

// Callback receives the result of the batch it was registered with.
type Callback func(BatchResult)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPolicy sets the automatic compilation policy. The default compiles
// every master.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrDiscard(l) }
}

// WithTimeout sets how long a job may compile before it is dropped.
// Zero disables the sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPollInterval sets how often an immediate request polls background
// jobs while it drains the queue.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithStateFile persists live jobs and pending changes after every change.
func WithStateFile(f *StateFile) Option {
	return func(s *Scheduler) { s.state = f }
}

// OnBatch registers a hook that sees every batch result after the
// batch's own callbacks have been scheduled.
func OnBatch(cb Callback) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, cb) }
}

// Scheduler owns the compile queue. RequestCompile, Advance, FlushPending
// and ProcessChanges must be called from the control loop; the read-only
// queries are safe from any goroutine.
type Scheduler struct {
	registry     *source.Registry
	executor     *Executor
	host         Host
	policy       Policy
	logger       *logging.Logger
	timeout      time.Duration
	pollInterval time.Duration
	now          func() time.Time
	state        *StateFile
	hooks        []Callback

	mu         sync.Mutex
	jobs       []*CompileJob
	timedOut   []*CompileJob
	callbacks  []Callback
	pending    []string
	active     bool
	lockHeld   bool
	batchStart time.Time
}

// NewScheduler creates a Scheduler over reg that runs jobs with exec and
// coordinates with host.
func NewScheduler(reg *source.Registry, exec *Executor, host Host, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:     reg,
		executor:     exec,
		host:         host,
		policy:       StaticPolicy{Default: true},
		logger:       logging.Discard(),
		pollInterval: 10 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCompile queues a job for every path that has no live job yet.
// Paths that are not masters are compiled anyway with a warning;
// untracked paths are skipped. onComplete joins the current batch's
// callback list even when every path was a duplicate. When immediate is
// set and a batch is in progress, RequestCompile drives the queue itself
// until the batch completes, whether or not this call added to it.
func (s *Scheduler) RequestCompile(ctx context.Context, paths []string, immediate bool, onComplete Callback) []*CompileJob {
	s.mu.Lock()
	var queued []*CompileJob
	for _, p := range paths {
		p = s.registry.Normalize(p)
		f := s.registry.Get(p)
		if f == nil {
			s.logger.Warn("ignoring compile request for untracked file", "path", p)
			continue
		}
		if !f.IsMaster() {
			s.logger.Warn("compiling a file that is not a master", "path", p, "masters", f.MasterPaths())
		}
		if live := s.liveLocked(p); live != nil {
			s.logger.Warn("skipping compile request", "path", p, "job", live.ID, "error", ErrDuplicateJob)
			continue
		}
		job := newJob(p, immediate)
		s.jobs = append(s.jobs, job)
		queued = append(queued, job)
	}

	fireNow := false
	if onComplete != nil {
		if len(queued) == 0 && !s.active {
			fireNow = true
		} else {
			s.callbacks = append(s.callbacks, onComplete)
		}
	}
	acquire := false
	if len(queued) > 0 && !s.active {
		s.active = true
		s.batchStart = s.now()
		if !s.lockHeld {
			s.lockHeld = true
			acquire = true
		}
	}
	s.mu.Unlock()

	if acquire {
		s.host.AcquireLock()
	}
	if len(queued) > 0 {
		s.saveState()
	}
	if fireNow {
		onComplete(BatchResult{})
	}
	if immediate && s.Active() {
		s.drain(ctx)
	}
	return queued
}

// drain advances the queue until the current batch has been aggregated.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		s.Advance(ctx)
		if !s.Active() {
			return
		}
		select {
		case <-ctx.Done():
			s.logger.Warn("stopped waiting for immediate compile", "error", ctx.Err())
			return
		case <-time.After(s.pollInterval):
		}
	}
}

// Advance is one tick of the queue: drop timed-out jobs, start the next
// queued job when nothing is compiling, and aggregate the batch once no
// job is queued or compiling. While the host is still waiting for its
// build lock the tick does nothing.
func (s *Scheduler) Advance(ctx context.Context) {
	if !s.Active() || !s.lockReady() {
		return
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.sweepLocked(s.now())
	var next *CompileJob
	if s.compilingLocked() == nil {
		next = s.nextQueuedLocked()
	}
	s.mu.Unlock()

	if next != nil {
		s.logger.Debug("compile started", "master", next.Target, "job", next.ID, "immediate", next.Immediate)
		s.executor.Start(ctx, next)
		s.saveState()
	}

	s.mu.Lock()
	done := s.active && s.idleLocked()
	s.mu.Unlock()
	if done {
		s.aggregate(ctx)
	}
}

// sweepLocked removes compiling jobs that have run past the timeout.
// Their goroutines are abandoned, never awaited.
func (s *Scheduler) sweepLocked(now time.Time) {
	if s.timeout <= 0 {
		return
	}
	kept := s.jobs[:0]
	for _, job := range s.jobs {
		if job.State() == JobCompiling && now.Sub(job.StartTime()) > s.timeout {
			job.abandon()
			s.timedOut = append(s.timedOut, job)
			s.logger.Error("compile timed out",
				"master", job.Target,
				"job", job.ID,
				"timeout", s.timeout,
				"diagnostics", job.Diagnostics(),
			)
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = kept
}

func (s *Scheduler) lockReady() bool {
	if w, ok := s.host.(lockWaiter); ok {
		return w.LockReady()
	}
	return true
}

func (s *Scheduler) liveLocked(target string) *CompileJob {
	for _, job := range s.jobs {
		if job.Target == target && job.State() != JobComplete {
			return job
		}
	}
	return nil
}

func (s *Scheduler) compilingLocked() *CompileJob {
	for _, job := range s.jobs {
		if job.State() == JobCompiling {
			return job
		}
	}
	return nil
}

func (s *Scheduler) nextQueuedLocked() *CompileJob {
	for _, job := range s.jobs {
		if job.State() == JobQueued {
			return job
		}
	}
	return nil
}

func (s *Scheduler) idleLocked() bool {
	for _, job := range s.jobs {
		if job.State() != JobComplete {
			return false
		}
	}
	return true
}

// MastersNeedingRecompileFor returns the masters owning any of paths (a
// master owns itself) that the policy allows to compile automatically,
// deduplicated and sorted.
func (s *Scheduler) MastersNeedingRecompileFor(paths []string) []string {
	seen := make(map[string]bool)
	for _, p := range paths {
		f := s.registry.Get(p)
		if f == nil {
			continue
		}
		if f.IsMaster() {
			seen[f.Path] = true
			continue
		}
		for _, m := range f.MasterPaths() {
			seen[m] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		if s.policy.AutoCompile(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// ProcessChanges re-parses changed paths and queues the masters affected
// by them, before and after the graph update. Files that stopped being
// masters are not compiled.
func (s *Scheduler) ProcessChanges(ctx context.Context, paths []string) ([]*CompileJob, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	before := s.MastersNeedingRecompileFor(paths)
	if err := s.registry.Upsert(ctx, paths); err != nil {
		return nil, err
	}
	masters := mergeSorted(before, s.MastersNeedingRecompileFor(paths))
	var live []string
	for _, m := range masters {
		if f := s.registry.Get(m); f != nil && f.IsMaster() {
			live = append(live, m)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}
	return s.RequestCompile(ctx, live, false, nil), nil
}

// DeferUntilUnblocked records a changed path to process once the host
// leaves restricted mode.
func (s *Scheduler) DeferUntilUnblocked(p string) {
	p = s.registry.Normalize(p)
	s.mu.Lock()
	for _, existing := range s.pending {
		if existing == p {
			s.mu.Unlock()
			return
		}
	}
	s.pending = append(s.pending, p)
	s.mu.Unlock()
	s.logger.Debug("deferred change until host is unblocked", "path", p)
	s.saveState()
}

// FlushPending processes every deferred change, in arrival order.
func (s *Scheduler) FlushPending(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	s.logger.Info("processing deferred changes", "count", len(pending))
	s.saveState()
	_, err := s.ProcessChanges(ctx, pending)
	return err
}

// Pending returns the deferred change set in arrival order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// Active reports whether a batch is in progress.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Jobs returns a snapshot of the live job list.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Info(now))
	}
	return out
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}
