// Package session wires the registry, scheduler and host together into
// one context object built by the command layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/papapumpkin/inkwell/internal/build"
	"github.com/papapumpkin/inkwell/internal/config"
	"github.com/papapumpkin/inkwell/internal/host"
	"github.com/papapumpkin/inkwell/internal/inkc"
	"github.com/papapumpkin/inkwell/internal/logging"
	"github.com/papapumpkin/inkwell/internal/source"
	"github.com/papapumpkin/inkwell/internal/store"
	"github.com/papapumpkin/inkwell/internal/watch"
)

const registryFileName = "registry.db"

// Options configures Open. Zero values select the command-line defaults.
type Options struct {
	Config   config.Config
	Fs       afero.Fs       // defaults to the OS filesystem
	Compiler build.Compiler // defaults to the configured external compiler
	Host     host.Host      // defaults to a Standalone host in the state dir
	Logger   *logging.Logger
	// OnBatch sees every finished batch.
	OnBatch build.Callback
	// SkipQueue leaves the saved compile queue on disk instead of
	// resuming it. Status still reports it.
	SkipQueue bool
	// Fresh ignores the saved registry snapshot, dropping recorded
	// diagnostics and compile times.
	Fresh bool
}

// Session is one running inkwell instance over a source tree.
type Session struct {
	cfg         config.Config
	logger      *logging.Logger
	registry    *source.Registry
	store       *store.SQLiteStore
	scheduler   *build.Scheduler
	coordinator *host.Coordinator
	host        host.Host
	queue       *build.StateFile
	skipQueue   bool
	fresh       bool
	savedQueue  *build.QueueState

	mu     sync.Mutex
	inbox  []string
	reload bool
}

// Open builds a session and loads its state: the saved registry when it
// is consistent with the tree, a full rescan otherwise, then any saved
// compile queue.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	logger := logging.OrDiscard(opts.Logger)
	if opts.Fs == nil {
		root, err := filepath.Abs(cfg.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("resolving source dir: %w", err)
		}
		cfg.SourceDir = root
	}
	stateDir := cfg.StatePath()
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	st, err := store.Open(ctx, filepath.Join(stateDir, registryFileName))
	if err != nil {
		return nil, err
	}

	reg, err := source.NewRegistry(source.Options{
		Fs:        opts.Fs,
		Root:      cfg.SourceDir,
		Extension: cfg.Extension,
		Exclude:   cfg.Exclude,
		Persister: st,
		Logger:    logger.With("component", "registry"),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	h := opts.Host
	if h == nil {
		h = host.NewStandalone(stateDir, cfg.TickInterval, logger.With("component", "host"))
	}
	compiler := opts.Compiler
	if compiler == nil {
		compiler = &inkc.Compiler{
			Binary:  cfg.CompilerPath,
			Args:    cfg.CompilerArgs,
			Verbose: cfg.Verbose,
			Logger:  logger.With("component", "compiler"),
		}
	}

	coord := host.NewCoordinator(h, logger.With("component", "coordinator"))
	exec := build.NewExecutor(reg, compiler, logger.With("component", "worker"), cfg.CompileTimeout)
	queue := build.NewStateFile(stateDir)
	schedOpts := []build.Option{
		build.WithPolicy(build.StaticPolicy{Default: cfg.AutoCompile, Overrides: cfg.Overrides()}),
		build.WithLogger(logger.With("component", "scheduler")),
		build.WithTimeout(cfg.CompileTimeout),
		build.WithStateFile(queue),
	}
	if opts.OnBatch != nil {
		schedOpts = append(schedOpts, build.OnBatch(opts.OnBatch))
	}
	sched := build.NewScheduler(reg, exec, coord, schedOpts...)

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		registry:    reg,
		store:       st,
		scheduler:   sched,
		coordinator: coord,
		host:        h,
		queue:       queue,
		skipQueue:   opts.SkipQueue,
		fresh:       opts.Fresh,
	}
	coord.OnUnblocked(sched.FlushPending)
	coord.OnApply(s.observeTransition)
	h.OnTick(s.Tick)

	if err := s.load(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return s, nil
}

// load restores the registry and queue, falling back to a rescan.
func (s *Session) load(ctx context.Context) error {
	if s.fresh {
		s.logger.Info("ignoring saved registry; scanning source tree", "root", s.cfg.SourceDir)
	} else {
		s.restoreRegistry(ctx)
	}
	// A rescan after a successful restore keeps diagnostics and compile
	// times while picking up edits made while no session was running.
	if err := s.RebuildGraph(ctx); err != nil {
		return err
	}

	state, err := s.queue.Load()
	if err != nil {
		s.logger.Warn("discarding unreadable compile queue", "path", s.queue.Path(), "error", err)
		return nil
	}
	if s.skipQueue {
		s.savedQueue = state
		return nil
	}
	if err := s.scheduler.Restore(state); err != nil {
		s.logger.Warn("discarding compile queue", "error", err)
	}
	return nil
}

func (s *Session) restoreRegistry(ctx context.Context) {
	records, err := s.store.LoadRecords(ctx)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		s.logger.Info("no saved registry; scanning source tree", "root", s.cfg.SourceDir)
	case err != nil:
		s.logger.Warn("saved registry unreadable; scanning source tree", "error", err)
	default:
		if err := s.registry.Restore(records); err != nil {
			s.logger.Warn("saved registry is stale; scanning source tree", "error", err)
			return
		}
		s.logger.Debug("restored saved registry", "files", len(records))
	}
}

// Config returns the session's configuration, with SourceDir made
// absolute.
func (s *Session) Config() config.Config { return s.cfg }

// Registry returns the source registry.
func (s *Session) Registry() *source.Registry { return s.registry }

// Scheduler returns the compile scheduler.
func (s *Session) Scheduler() *build.Scheduler { return s.scheduler }

// Coordinator returns the host coordinator.
func (s *Session) Coordinator() *host.Coordinator { return s.coordinator }

// Host returns the host the session runs in.
func (s *Session) Host() host.Host { return s.host }

// Tick is one iteration of the control loop: a pending reload rescans
// the tree, queued changes are processed, deferred work is flushed once
// the host is unblocked, and the compile queue advances.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	changes := s.inbox
	reload := s.reload
	s.inbox, s.reload = nil, false
	s.mu.Unlock()
	if reload {
		if err := s.RebuildGraph(ctx); err != nil {
			s.logger.Warn("could not reload source tree", "error", err)
		}
	}
	if len(changes) > 0 {
		if err := s.HandleChanges(ctx, changes); err != nil {
			s.logger.Warn("could not process changes", "error", err)
		}
	}
	s.coordinator.Tick(ctx)
	s.scheduler.Advance(ctx)
}

// Submit queues changed paths for the next Tick. It is safe to call
// from any goroutine.
func (s *Session) Submit(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, paths...)
}

// HandleChanges processes changed files. In restricted mode they are
// deferred until the host is unblocked. It must be called from the
// control loop.
func (s *Session) HandleChanges(ctx context.Context, paths []string) error {
	if s.coordinator.Restricted() {
		for _, p := range paths {
			s.scheduler.DeferUntilUnblocked(p)
		}
		return nil
	}
	_, err := s.scheduler.ProcessChanges(ctx, paths)
	return err
}

// Intervene applies a PAUSE-file intervention as a host transition.
func (s *Session) Intervene(i watch.Intervention) {
	switch i {
	case watch.InterventionPause:
		s.coordinator.RequestTransition(host.EnterRestricted)
	case watch.InterventionResume:
		s.coordinator.RequestTransition(host.ExitRestricted)
	}
}

// Reload asks for a full rescan of the source tree on the next tick. A
// batch in flight finishes first.
func (s *Session) Reload() {
	s.coordinator.RequestTransition(host.Reload)
}

func (s *Session) observeTransition(t host.Transition) {
	if t != host.Reload {
		return
	}
	s.mu.Lock()
	s.reload = true
	s.mu.Unlock()
}

// Compile queues the given masters. See build.Scheduler.RequestCompile.
func (s *Session) Compile(ctx context.Context, paths []string, immediate bool, onComplete build.Callback) []*build.CompileJob {
	return s.scheduler.RequestCompile(ctx, paths, immediate, onComplete)
}

// RecompileAll queues every master the policy allows. With staleOnly,
// only masters whose hierarchy changed since its last compile are
// queued.
func (s *Session) RecompileAll(ctx context.Context, staleOnly, immediate bool, onComplete build.Callback) []*build.CompileJob {
	masters := s.scheduler.MastersNeedingRecompileFor(s.registry.Masters())
	if staleOnly {
		masters = s.staleMasters(masters)
	}
	s.logger.Info("recompiling masters", "count", len(masters), "stale_only", staleOnly)
	return s.scheduler.RequestCompile(ctx, masters, immediate, onComplete)
}

func (s *Session) staleMasters(masters []string) []string {
	var out []string
	for _, m := range masters {
		for _, p := range s.registry.Hierarchy(m) {
			if f := s.registry.Get(p); f != nil && f.Stale() {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// RebuildGraph rescans the whole source tree and logs a summary of the
// include graph.
func (s *Session) RebuildGraph(ctx context.Context) error {
	if err := s.registry.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuilding include graph: %w", err)
	}
	clusters, err := s.registry.Clusters()
	if err != nil {
		return fmt.Errorf("partitioning include graph: %w", err)
	}
	for _, c := range clusters {
		s.logger.Debug("include cluster", "id", c.ID, "roots", c.Roots, "files", len(c.NodeIDs))
	}
	var structural int
	for _, f := range s.registry.Files() {
		if f.HasStructuralErrors() {
			structural++
		}
	}
	s.logger.Info("include graph ready",
		"files", s.registry.Len(),
		"masters", len(s.registry.Masters()),
		"clusters", len(clusters),
		"structural_errors", structural,
	)
	return nil
}

// Run drives the host's control loop until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	runner, ok := s.host.(interface{ Run(context.Context) error })
	if !ok {
		return fmt.Errorf("host %T has no control loop of its own", s.host)
	}
	return runner.Run(ctx)
}

// Close releases the session's resources. Live jobs stay in the saved
// queue for the next session.
func (s *Session) Close() error {
	return s.store.Close()
}
