// Package source tracks every script file in the source tree, the include
// declarations parsed from each, and the include graph derived from them:
// direct parents, transitive master (root) owners, recursive and missing
// includes. It also owns the per-file diagnostic lists filled in after each
// compile.
package source

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity classifies a compiler diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity is the inverse of Severity.String. It also accepts the
// spellings used by compiler output ("ERROR", "WARNING", "TODO").
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "note", "todo":
		return SeverityNote, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Diagnostic is a single compiler message attached to a file and line.
type Diagnostic struct {
	Severity Severity `toml:"severity" json:"severity"`
	File     string   `toml:"file" json:"file"`
	Line     int      `toml:"line" json:"line"`
	Message  string   `toml:"message" json:"message"`
}

// String formats the diagnostic as file:line: severity: message.
func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.File, d.Severity, d.Message)
}

// SourceFile is one tracked script file and its position in the include
// graph. Includes, Parents and Masters are derived on every resolve and
// kept sorted by path.
type SourceFile struct {
	Path string

	// IncludePaths are the include targets as written, in declaration
	// order. IncludeLines holds the matching 1-based line numbers.
	IncludePaths []string
	IncludeLines []int

	Includes []*SourceFile
	Parents  []*SourceFile
	Masters  []*SourceFile

	// RecursiveIncludeErrors lists paths whose include edge with this
	// file would have closed a cycle.
	RecursiveIncludeErrors []string
	// MissingIncludes lists declared includes that resolve to no tracked file.
	MissingIncludes []string

	Errors            []Diagnostic
	Warnings          []Diagnostic
	Notes             []Diagnostic
	UnhandledFailures []string

	LastEditTime    time.Time
	LastCompileTime time.Time

	// resolved is set once the file has been through a graph pass, so
	// IsMaster reflects a computed answer rather than the zero value.
	resolved bool
}

// IsMaster reports whether the file is a compilation root.
func (f *SourceFile) IsMaster() bool {
	return len(f.Masters) == 0
}

// HasStructuralErrors reports recursive or missing includes.
func (f *SourceFile) HasStructuralErrors() bool {
	return len(f.RecursiveIncludeErrors) > 0 || len(f.MissingIncludes) > 0
}

// HasErrors reports whether the file itself carries any error.
func (f *SourceFile) HasErrors() bool {
	return len(f.Errors) > 0 || len(f.UnhandledFailures) > 0 || f.HasStructuralErrors()
}

// HasWarnings reports whether the last compile left warnings on the file.
func (f *SourceFile) HasWarnings() bool {
	return len(f.Warnings) > 0
}

// Stale reports whether the file was edited after it was last compiled.
func (f *SourceFile) Stale() bool {
	return f.LastCompileTime.IsZero() || f.LastEditTime.After(f.LastCompileTime)
}

// MasterPaths returns the paths of the file's masters.
func (f *SourceFile) MasterPaths() []string { return paths(f.Masters) }

// ParentPaths returns the paths of the files that include this one directly.
func (f *SourceFile) ParentPaths() []string { return paths(f.Parents) }

// IncludedPaths returns the paths of the resolved includes.
func (f *SourceFile) IncludedPaths() []string { return paths(f.Includes) }

// ClearDiagnostics drops the results of the previous compile.
func (f *SourceFile) ClearDiagnostics() {
	f.Errors = nil
	f.Warnings = nil
	f.Notes = nil
	f.UnhandledFailures = nil
}

// AddDiagnostic files d under the list matching its severity, skipping
// exact duplicates (a shared include compiled under two masters).
func (f *SourceFile) AddDiagnostic(d Diagnostic) {
	list := &f.Errors
	switch d.Severity {
	case SeverityWarning:
		list = &f.Warnings
	case SeverityNote:
		list = &f.Notes
	}
	for _, existing := range *list {
		if existing == d {
			return
		}
	}
	*list = append(*list, d)
}

// Diagnostics returns errors, warnings and notes in that order.
func (f *SourceFile) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, 0, len(f.Errors)+len(f.Warnings)+len(f.Notes))
	out = append(out, f.Errors...)
	out = append(out, f.Warnings...)
	return append(out, f.Notes...)
}

func (f *SourceFile) resetGraph() {
	f.Includes = nil
	f.Parents = nil
	f.Masters = nil
	f.RecursiveIncludeErrors = nil
	f.MissingIncludes = nil
}

func paths(files []*SourceFile) []string {
	if len(files) == 0 {
		return nil
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func sortFiles(files []*SourceFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// Record is the persisted form of a SourceFile. Derived graph fields are
// recomputed on restore; Masters is kept only to detect a snapshot that
// no longer matches the files it describes.
type Record struct {
	Path              string
	IncludePaths      []string
	IncludeLines      []int
	Masters           []string
	Diagnostics       []Diagnostic
	UnhandledFailures []string
	LastEditTime      time.Time
	LastCompileTime   time.Time
}
