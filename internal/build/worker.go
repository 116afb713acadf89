package build

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/spf13/afero"

	"github.com/papapumpkin/inkwell/internal/logging"
	"github.com/papapumpkin/inkwell/internal/source"
)

// Executor runs compile jobs against a registry. Start must be called
// from the control loop; the compile itself runs inline for immediate
// jobs and on its own goroutine otherwise.
type Executor struct {
	registry *source.Registry
	compiler Compiler
	logger   *logging.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewExecutor creates an Executor. A zero timeout disables the
// per-compile context deadline.
func NewExecutor(reg *source.Registry, c Compiler, logger *logging.Logger, timeout time.Duration) *Executor {
	return &Executor{
		registry: reg,
		compiler: c,
		logger:   logging.OrDiscard(logger),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Start moves job to Compiling and launches it. A master whose include
// hierarchy has recursive or missing includes is completed at once with
// those errors instead of reaching the compiler.
func (e *Executor) Start(ctx context.Context, job *CompileJob) {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if e.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	job.begin(e.now(), cancel)

	if structural := e.registry.StructuralErrors(job.Target); len(structural) > 0 {
		job.block(structural)
		e.logger.Warn("compile blocked by include errors", "master", job.Target, "errors", len(structural))
		job.complete(e.now())
		return
	}

	if job.Immediate {
		e.Execute(jobCtx, job)
		return
	}
	go e.Execute(jobCtx, job)
}

// Execute compiles job synchronously and always leaves it Complete.
func (e *Executor) Execute(ctx context.Context, job *CompileJob) {
	defer func() { job.complete(e.now()) }()

	text, err := afero.ReadFile(e.registry.Fs(), e.registry.Abs(job.Target))
	if err != nil {
		job.addUnhandled(fmt.Sprintf("reading %s: %v", job.Target, err))
		return
	}

	req := Request{
		Path:    job.Target,
		File:    e.registry.Abs(job.Target),
		Source:  string(text),
		Resolve: e.resolver(job),
	}

	var (
		artifact   string
		compileErr error
		pc         panics.Catcher
	)
	pc.Try(func() {
		artifact, compileErr = e.compiler.Compile(ctx, req, job.addDiagnostic)
	})
	if ctx.Err() != nil {
		// Output produced after the deadline or the sweep is discarded.
		job.interrupt()
		e.logger.Debug("compile interrupted", "master", job.Target, "job", job.ID, "error", ctx.Err())
		return
	}
	if r := pc.Recovered(); r != nil {
		job.addUnhandled(fmt.Sprintf("compiler panic: %v", r.Value))
		return
	}
	if compileErr != nil {
		job.addUnhandled(compileErr.Error())
		return
	}
	if artifact != "" {
		job.setArtifact(artifact)
	}
}

// resolver loads includes relative to the including file and records
// each resolution on the job.
func (e *Executor) resolver(job *CompileJob) IncludeResolver {
	return func(base, name string) (string, string, error) {
		resolved := source.ResolveInclude(e.registry.Normalize(base), name)
		data, err := afero.ReadFile(e.registry.Fs(), e.registry.Abs(resolved))
		if err != nil {
			return "", "", fmt.Errorf("resolving include %q from %s: %w", name, base, err)
		}
		job.recordInclude(name, resolved)
		return resolved, string(data), nil
	}
}
