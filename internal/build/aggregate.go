package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/papapumpkin/inkwell/internal/source"
)

// JobResult is the outcome of one job in a finished batch.
type JobResult struct {
	ID     string `json:"id" yaml:"id"`
	Target string `json:"target" yaml:"target"`
	// Artifact is the filesystem path of the written artifact, empty when
	// the compile produced none.
	Artifact          string              `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Diagnostics       []source.Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	UnhandledFailures []string            `json:"unhandled_failures,omitempty" yaml:"unhandled_failures,omitempty"`
	IncludedFiles     []string            `json:"included_files,omitempty" yaml:"included_files,omitempty"`
	Elapsed           time.Duration       `json:"elapsed" yaml:"elapsed"`
	Blocked           bool                `json:"blocked,omitempty" yaml:"blocked,omitempty"`
	TimedOut          bool                `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	// HasErrors reports whether any file in the master's hierarchy
	// carries errors after the batch was classified.
	HasErrors bool `json:"has_errors" yaml:"has_errors"`
}

// BatchResult summarizes one batch, from its first queued job until the
// queue drained.
type BatchResult struct {
	Jobs     []JobResult `json:"jobs" yaml:"jobs"`
	Started  time.Time   `json:"started" yaml:"started"`
	Finished time.Time   `json:"finished" yaml:"finished"`

	Errors   int `json:"errors" yaml:"errors"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Notes    int `json:"notes" yaml:"notes"`
	Failures int `json:"failures" yaml:"failures"`
	TimedOut int `json:"timed_out" yaml:"timed_out"`
}

// Succeeded reports whether every job compiled without errors.
func (b BatchResult) Succeeded() bool {
	return b.Errors == 0 && b.Failures == 0 && b.TimedOut == 0
}

// Elapsed returns the batch's wall-clock duration.
func (b BatchResult) Elapsed() time.Duration {
	if b.Started.IsZero() || b.Finished.IsZero() {
		return 0
	}
	return b.Finished.Sub(b.Started)
}

// Masters returns the target of every job in the batch.
func (b BatchResult) Masters() []string {
	out := make([]string, 0, len(b.Jobs))
	for _, j := range b.Jobs {
		out = append(out, j.Target)
	}
	return out
}

// level picks the severity of the batch's log line.
func (b BatchResult) level() slog.Level {
	switch {
	case !b.Succeeded():
		return slog.LevelError
	case b.Warnings > 0:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// aggregate closes the current batch: it snapshots and clears the live
// job list, writes artifacts, re-files diagnostics, logs one line,
// releases the host lock and fires every callback once.
func (s *Scheduler) aggregate(ctx context.Context) {
	s.mu.Lock()
	jobs, timedOut, callbacks := s.jobs, s.timedOut, s.callbacks
	started := s.batchStart
	s.jobs, s.timedOut, s.callbacks = nil, nil, nil
	s.active = false
	release := s.lockHeld
	s.lockHeld = false
	s.mu.Unlock()

	result := s.completeBatch(ctx, jobs, timedOut, started)
	s.saveState()

	if release {
		s.host.ReleaseLock()
	}
	for _, hook := range s.hooks {
		hook(result)
	}
	for _, cb := range callbacks {
		cb(result)
	}
}

func (s *Scheduler) completeBatch(ctx context.Context, jobs, timedOut []*CompileJob, started time.Time) BatchResult {
	result := BatchResult{Started: started, Finished: s.now()}

	// A job whose own deadline fired before the sweep saw it is a timeout
	// too; it must not file failures or count as compiled.
	finished := make([]*CompileJob, 0, len(jobs))
	for _, job := range jobs {
		if !job.Interrupted() {
			finished = append(finished, job)
			continue
		}
		timedOut = append(timedOut, job)
		s.logger.Error("compile timed out",
			"master", job.Target,
			"job", job.ID,
			"timeout", s.timeout,
			"diagnostics", job.Diagnostics(),
		)
	}
	jobs = finished

	artifacts := make(map[*CompileJob]string)
	for _, job := range jobs {
		text := job.Artifact()
		if text == "" {
			continue
		}
		p, err := s.registry.Artifacts().Write(job.Target, text)
		if err != nil {
			job.addUnhandled(fmt.Sprintf("writing artifact: %v", err))
			continue
		}
		artifacts[job] = p
		s.host.RegisterArtifact(p)
	}

	// Blocked hierarchies lose their previous results too: the include
	// errors are read from the graph, and diagnostics from an older
	// compile no longer describe the tree. They keep their compile time.
	var cleared []string
	for _, job := range jobs {
		cleared = append(cleared, s.registry.Hierarchy(job.Target)...)
	}
	s.registry.ClearDiagnostics(cleared)
	for _, job := range jobs {
		if job.Blocked() {
			continue
		}
		s.registry.RecordCompile(job.Target, job.Diagnostics(), job.UnhandledFailures(), job.EndTime())
	}
	if len(cleared) > 0 {
		s.registry.Save(ctx)
	}

	for _, job := range jobs {
		jr := s.jobResult(job)
		jr.Artifact = artifacts[job]
		jr.HasErrors = s.registry.HierarchyHasErrors(job.Target)
		result.add(jr)
	}
	for _, job := range timedOut {
		jr := s.jobResult(job)
		jr.TimedOut = true
		result.add(jr)
	}

	s.logger.Log(result.level(), "compile batch finished",
		"masters", len(result.Jobs),
		"errors", result.Errors,
		"warnings", result.Warnings,
		"notes", result.Notes,
		"failures", result.Failures,
		"timed_out", result.TimedOut,
		"elapsed", result.Elapsed(),
	)
	return result
}

func (s *Scheduler) jobResult(job *CompileJob) JobResult {
	return JobResult{
		ID:                job.ID,
		Target:            job.Target,
		Diagnostics:       job.Diagnostics(),
		UnhandledFailures: job.UnhandledFailures(),
		IncludedFiles:     job.IncludedPaths(),
		Elapsed:           job.Elapsed(s.now()),
		Blocked:           job.Blocked(),
	}
}

func (b *BatchResult) add(jr JobResult) {
	if jr.TimedOut {
		b.TimedOut++
	}
	b.Failures += len(jr.UnhandledFailures)
	for _, d := range jr.Diagnostics {
		switch d.Severity {
		case source.SeverityError:
			b.Errors++
		case source.SeverityWarning:
			b.Warnings++
		case source.SeverityNote:
			b.Notes++
		}
	}
	b.Jobs = append(b.Jobs, jr)
}
