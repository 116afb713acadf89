package session

import (
	"context"
	"time"

	"github.com/papapumpkin/inkwell/internal/build"
	"github.com/papapumpkin/inkwell/internal/source"
)

// Status is a point-in-time view of a session, shaped for the status
// command's text, JSON and YAML output.
type Status struct {
	Root       string          `json:"root" yaml:"root"`
	Files      int             `json:"files" yaml:"files"`
	Clusters   int             `json:"clusters" yaml:"clusters"`
	Masters    []MasterStatus  `json:"masters" yaml:"masters"`
	Jobs       []build.JobInfo `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Pending    []string        `json:"pending,omitempty" yaml:"pending,omitempty"`
	Restricted bool            `json:"restricted" yaml:"restricted"`
	Locked     bool            `json:"locked" yaml:"locked"`
	SavedAt    time.Time       `json:"saved_at,omitzero" yaml:"saved_at,omitempty"`
}

// MasterStatus summarizes one master and its include hierarchy.
type MasterStatus struct {
	Path            string              `json:"path" yaml:"path"`
	Files           int                 `json:"files" yaml:"files"`
	AutoCompile     bool                `json:"auto_compile" yaml:"auto_compile"`
	Stale           bool                `json:"stale" yaml:"stale"`
	Blocked         bool                `json:"blocked" yaml:"blocked"`
	LastCompileTime time.Time           `json:"last_compile_time,omitzero" yaml:"last_compile_time,omitempty"`
	Artifact        string              `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	ArtifactSize    int64               `json:"artifact_size,omitempty" yaml:"artifact_size,omitempty"`
	Errors          int                 `json:"errors" yaml:"errors"`
	Warnings        int                 `json:"warnings" yaml:"warnings"`
	Notes           int                 `json:"notes" yaml:"notes"`
	Diagnostics     []source.Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Failures        []string            `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// HasErrors reports whether the master's hierarchy carries errors.
func (m MasterStatus) HasErrors() bool {
	return m.Errors > 0 || len(m.Failures) > 0 || m.Blocked
}

// Status collects the current session state.
func (s *Session) Status(ctx context.Context) Status {
	st := Status{
		Root:       s.registry.Root(),
		Files:      s.registry.Len(),
		Jobs:       s.scheduler.Jobs(),
		Pending:    s.scheduler.Pending(),
		Restricted: s.coordinator.Restricted(),
		Locked:     s.coordinator.Locked(),
	}
	if q := s.savedQueue; q != nil {
		for _, rec := range q.Jobs {
			st.Jobs = append(st.Jobs, build.JobInfo{
				ID:        rec.ID,
				Target:    rec.Target,
				Immediate: rec.Immediate,
				State:     rec.State,
				StartTime: rec.StartTime,
			})
		}
		st.Pending = append(st.Pending, q.Pending...)
	}
	if clusters, err := s.registry.Clusters(); err == nil {
		st.Clusters = len(clusters)
	}
	if savedAt, err := s.store.SavedAt(ctx); err == nil {
		st.SavedAt = savedAt
	}
	policy := build.StaticPolicy{Default: s.cfg.AutoCompile, Overrides: s.cfg.Overrides()}
	for _, m := range s.registry.Masters() {
		st.Masters = append(st.Masters, s.masterStatus(m, policy))
	}
	return st
}

func (s *Session) masterStatus(master string, policy build.Policy) MasterStatus {
	ms := MasterStatus{Path: master, AutoCompile: policy.AutoCompile(master)}
	hierarchy := s.registry.Hierarchy(master)
	ms.Files = len(hierarchy)
	structural := s.registry.StructuralErrors(master)
	ms.Blocked = len(structural) > 0
	ms.Errors = len(structural)
	ms.Diagnostics = append(ms.Diagnostics, structural...)
	for _, p := range hierarchy {
		f := s.registry.Get(p)
		if f == nil {
			continue
		}
		if f.Stale() {
			ms.Stale = true
		}
		ms.Errors += len(f.Errors)
		ms.Warnings += len(f.Warnings)
		ms.Notes += len(f.Notes)
		ms.Diagnostics = append(ms.Diagnostics, f.Diagnostics()...)
		ms.Failures = append(ms.Failures, f.UnhandledFailures...)
		if p == master {
			ms.LastCompileTime = f.LastCompileTime
		}
	}
	artifacts := s.registry.Artifacts()
	if info, err := s.registry.Fs().Stat(artifacts.Abs(master)); err == nil {
		ms.Artifact = artifacts.Path(master)
		ms.ArtifactSize = info.Size()
	}
	return ms
}
