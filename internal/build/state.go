package build

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const stateFileName = "queue.state.toml"

// QueueState is the persisted form of the live queue and the pending
// change set.
type QueueState struct {
	Version int         `toml:"version"`
	SavedAt time.Time   `toml:"saved_at"`
	Jobs    []JobRecord `toml:"jobs,omitempty"`
	Pending []string    `toml:"pending,omitempty"`
}

// JobRecord is one live job as saved to disk.
type JobRecord struct {
	ID        string    `toml:"id"`
	Target    string    `toml:"target"`
	Immediate bool      `toml:"immediate,omitempty"`
	State     string    `toml:"state"`
	StartTime time.Time `toml:"start_time"`
}

// StateFile reads and writes queue.state.toml in a directory.
type StateFile struct {
	dir string
}

// NewStateFile returns a StateFile rooted at dir.
func NewStateFile(dir string) *StateFile {
	return &StateFile{dir: dir}
}

// Path returns the state file's location.
func (f *StateFile) Path() string {
	return filepath.Join(f.dir, stateFileName)
}

// Load reads the state file. It returns an empty state when the file
// does not exist.
func (f *StateFile) Load() (*QueueState, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &QueueState{Version: 1}, nil
		}
		return nil, fmt.Errorf("reading queue state: %w", err)
	}
	var state QueueState
	if err := toml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing queue state: %w", err)
	}
	for _, j := range state.Jobs {
		if _, err := ParseJobState(j.State); err != nil {
			return nil, fmt.Errorf("parsing queue state: job %s: %w", j.ID, err)
		}
	}
	return &state, nil
}

// Save writes the state file atomically (write temp + rename).
func (f *StateFile) Save(state *QueueState) error {
	data, err := toml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling queue state: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	path := f.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp queue state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming queue state: %w", err)
	}
	return nil
}

// snapshot captures the live queue.
func (s *Scheduler) snapshot() *QueueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &QueueState{
		Version: 1,
		SavedAt: s.now(),
		Pending: append([]string(nil), s.pending...),
	}
	for _, job := range s.jobs {
		if job.State() == JobComplete {
			continue
		}
		state.Jobs = append(state.Jobs, JobRecord{
			ID:        job.ID,
			Target:    job.Target,
			Immediate: job.Immediate,
			State:     job.State().String(),
			StartTime: job.StartTime(),
		})
	}
	return state
}

func (s *Scheduler) saveState() {
	if s.state == nil {
		return
	}
	if err := s.state.Save(s.snapshot()); err != nil {
		s.logger.Warn("could not save queue state", "path", s.state.Path(), "error", err)
	}
}

// Restore re-queues saved jobs and pending changes. Jobs that were
// compiling when the state was saved start over. It returns
// ErrDanglingJob, leaving the queue untouched, when a job names a file
// the registry does not track. Restored jobs are started by the next
// Advance.
func (s *Scheduler) Restore(state *QueueState) error {
	for _, rec := range state.Jobs {
		if s.registry.Get(rec.Target) == nil {
			return fmt.Errorf("%w: %s", ErrDanglingJob, rec.Target)
		}
	}

	s.mu.Lock()
	for _, p := range state.Pending {
		if !containsString(s.pending, p) {
			s.pending = append(s.pending, p)
		}
	}
	var restored int
	for _, rec := range state.Jobs {
		if s.liveLocked(rec.Target) != nil {
			continue
		}
		job := newJob(rec.Target, false)
		if rec.ID != "" {
			job.ID = rec.ID
		}
		s.jobs = append(s.jobs, job)
		restored++
	}
	acquire := false
	if restored > 0 && !s.active {
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
	if restored > 0 {
		s.logger.Info("restored compile queue", "jobs", restored, "pending", len(state.Pending))
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
