// Package build schedules and runs compilations of master script files.
// A single control loop drives every state transition; at most one job
// compiles at a time and a batch ends when no job is queued or compiling.
package build

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papapumpkin/inkwell/internal/source"
)

// JobState is the lifecycle state of a CompileJob.
type JobState int

const (
	JobQueued JobState = iota
	JobCompiling
	JobComplete
)

// String returns the lowercase state name.
func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobCompiling:
		return "compiling"
	case JobComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseJobState is the inverse of JobState.String.
func ParseJobState(s string) (JobState, error) {
	switch s {
	case "queued":
		return JobQueued, nil
	case "compiling":
		return JobCompiling, nil
	case "complete":
		return JobComplete, nil
	}
	return 0, fmt.Errorf("unknown job state %q", s)
}

// CompileJob is one compilation of one master. The worker goroutine
// writes results while the control loop polls State, so every field
// past the identity is guarded by mu.
type CompileJob struct {
	ID        string
	Target    string
	Immediate bool

	mu          sync.Mutex
	state       JobState
	start       time.Time
	end         time.Time
	artifact    string
	diagnostics []source.Diagnostic
	unhandled   []string
	included    map[string]string
	blocked     bool
	interrupted bool
	cancel      context.CancelFunc
}

func newJob(target string, immediate bool) *CompileJob {
	return &CompileJob{
		ID:        uuid.NewString(),
		Target:    target,
		Immediate: immediate,
		included:  make(map[string]string),
	}
}

// State returns the job's current state.
func (j *CompileJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// StartTime returns when the job began compiling, or the zero time.
func (j *CompileJob) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.start
}

// EndTime returns when the job completed, or the zero time.
func (j *CompileJob) EndTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.end
}

// Elapsed returns how long the job compiled. A job still compiling is
// measured against now.
func (j *CompileJob) Elapsed(now time.Time) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case j.start.IsZero():
		return 0
	case j.end.IsZero():
		return now.Sub(j.start)
	default:
		return j.end.Sub(j.start)
	}
}

// Artifact returns the compiled output, empty unless the compile succeeded.
func (j *CompileJob) Artifact() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact
}

// Diagnostics returns a copy of the diagnostics captured so far.
func (j *CompileJob) Diagnostics() []source.Diagnostic {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]source.Diagnostic(nil), j.diagnostics...)
}

// UnhandledFailures returns a copy of the compiler failures captured so far.
func (j *CompileJob) UnhandledFailures() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.unhandled...)
}

// IncludedFiles maps each include name the compiler asked for to the
// registry path it resolved to.
func (j *CompileJob) IncludedFiles() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]string, len(j.included))
	for k, v := range j.included {
		out[k] = v
	}
	return out
}

// IncludedPaths returns the distinct resolved include paths, sorted.
func (j *CompileJob) IncludedPaths() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	seen := make(map[string]bool, len(j.included))
	var out []string
	for _, p := range j.included {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Blocked reports whether the job was completed without compiling
// because its hierarchy has include errors.
func (j *CompileJob) Blocked() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.blocked
}

// Interrupted reports whether the job's context ended before the
// compiler returned, so its output was discarded.
func (j *CompileJob) Interrupted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interrupted
}

func (j *CompileJob) interrupt() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.interrupted = true
	j.artifact = ""
}

func (j *CompileJob) block(structural []source.Diagnostic) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.blocked = true
	j.diagnostics = append(j.diagnostics, structural...)
}

func (j *CompileJob) begin(at time.Time, cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobCompiling
	j.start = at
	j.cancel = cancel
}

func (j *CompileJob) addDiagnostic(d source.Diagnostic) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.diagnostics = append(j.diagnostics, d)
}

func (j *CompileJob) addUnhandled(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.unhandled = append(j.unhandled, msg)
}

func (j *CompileJob) setArtifact(text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifact = text
}

func (j *CompileJob) recordInclude(name, resolved string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.included[name] = resolved
}

// complete marks the job done. Completing twice keeps the first end time.
func (j *CompileJob) complete(at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobComplete {
		return
	}
	j.state = JobComplete
	j.end = at
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
}

// abandon cancels the job's context without waiting for the worker.
func (j *CompileJob) abandon() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
}

// JobInfo is a read-only view of a job for status output.
type JobInfo struct {
	ID        string        `json:"id" yaml:"id"`
	Target    string        `json:"target" yaml:"target"`
	Immediate bool          `json:"immediate" yaml:"immediate"`
	State     string        `json:"state" yaml:"state"`
	StartTime time.Time     `json:"start_time,omitzero" yaml:"start_time,omitempty"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Info returns a snapshot of the job.
func (j *CompileJob) Info(now time.Time) JobInfo {
	elapsed := j.Elapsed(now)
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		ID:        j.ID,
		Target:    j.Target,
		Immediate: j.Immediate,
		State:     j.state.String(),
		StartTime: j.start,
		Elapsed:   elapsed,
	}
}
