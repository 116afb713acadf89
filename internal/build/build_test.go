package build

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/papapumpkin/inkwell/internal/source"
)

const testRoot = "/story"

// fakeHost records lock and artifact traffic.
type fakeHost struct {
	mu        sync.Mutex
	acquires  int
	releases  int
	artifacts []string
}

func (h *fakeHost) AcquireLock() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acquires++
}

func (h *fakeHost) ReleaseLock() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
}

func (h *fakeHost) RegisterArtifact(p string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.artifacts = append(h.artifacts, p)
}

func (h *fakeHost) counts() (acquires, releases int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquires, h.releases
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// batchRecorder collects callback invocations.
type batchRecorder struct {
	mu      sync.Mutex
	results []BatchResult
}

func (r *batchRecorder) callback() Callback {
	return func(b BatchResult) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.results = append(r.results, b)
	}
}

func (r *batchRecorder) calls() []BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BatchResult(nil), r.results...)
}

type testEnv struct {
	fs       afero.Fs
	registry *source.Registry
	host     *fakeHost
	clock    *fakeClock
	sched    *Scheduler
}

// newTestEnv builds a registry over files (registry path → content) and
// a scheduler compiling with c.
func newTestEnv(t *testing.T, files map[string]string, c Compiler, opts ...Option) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, content := range files {
		if err := afero.WriteFile(fs, filepath.Join(testRoot, p), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}
	reg, err := source.NewRegistry(source.Options{Fs: fs, Root: testRoot})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	clock := newFakeClock()
	exec := NewExecutor(reg, c, nil, 0)
	exec.now = clock.Now
	host := &fakeHost{}
	opts = append([]Option{WithClock(clock.Now), WithPollInterval(time.Millisecond)}, opts...)
	return &testEnv{
		fs:       fs,
		registry: reg,
		host:     host,
		clock:    clock,
		sched:    NewScheduler(reg, exec, host, opts...),
	}
}

// runUntilIdle ticks the scheduler until the current batch is aggregated.
func (e *testEnv) runUntilIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.sched.Active() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not go idle")
		}
		e.sched.Advance(context.Background())
		time.Sleep(time.Millisecond)
	}
}

// echoCompiler returns the master's text as its artifact.
func echoCompiler() Compiler {
	return CompilerFunc(func(_ context.Context, req Request, _ DiagnosticSink) (string, error) {
		return `{"source":` + strconv.Quote(req.Source) + `}`, nil
	})
}
