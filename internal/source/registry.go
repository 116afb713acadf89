package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/papapumpkin/inkwell/internal/dag"
	"github.com/papapumpkin/inkwell/internal/logging"
)

// DefaultExtension is the script extension tracked when none is configured.
const DefaultExtension = ".ink"

// Persister stores registry snapshots. It is called after every
// structural change.
type Persister interface {
	SaveRecords(ctx context.Context, records []Record) error
}

// Options configures a Registry.
type Options struct {
	Fs        afero.Fs // defaults to the OS filesystem
	Root      string   // source root on Fs
	Extension string   // defaults to DefaultExtension
	Exclude   []string // glob patterns matched against registry paths
	Persister Persister
	Logger    *logging.Logger
}

// Registry is the in-memory catalog of every known script file. All
// methods are safe for concurrent use; SourceFile values returned by Get
// and Files must only be mutated through the Registry.
type Registry struct {
	mu        sync.RWMutex
	fs        afero.Fs
	root      string
	ext       string
	exclude   []glob.Glob
	persister Persister
	logger    *logging.Logger
	artifacts *Artifacts

	files map[string]*SourceFile
	graph *dag.DAG
}

// NewRegistry creates an empty Registry. Call Rebuild or Restore to
// populate it.
func NewRegistry(opts Options) (*Registry, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	ext := opts.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	var exclude []glob.Glob
	for _, pattern := range opts.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", pattern, err)
		}
		exclude = append(exclude, g)
	}
	return &Registry{
		fs:        fs,
		root:      opts.Root,
		ext:       ext,
		exclude:   exclude,
		persister: opts.Persister,
		logger:    logging.OrDiscard(opts.Logger),
		artifacts: NewArtifacts(fs, opts.Root),
		files:     make(map[string]*SourceFile),
		graph:     dag.New(),
	}, nil
}

// Artifacts returns the artifact locator sharing the registry's filesystem.
func (r *Registry) Artifacts() *Artifacts { return r.artifacts }

// Fs returns the registry's filesystem.
func (r *Registry) Fs() afero.Fs { return r.fs }

// Root returns the source root on the registry's filesystem.
func (r *Registry) Root() string { return r.root }

// Abs returns the filesystem path of a registry path.
func (r *Registry) Abs(p string) string { return r.abs(r.normalize(p)) }

// Normalize converts a filesystem path under the root, or a registry
// path in any form, to the canonical registry path.
func (r *Registry) Normalize(p string) string { return r.normalize(p) }

// Rebuild rescans the whole source tree: new files are added, tracked
// files are re-parsed, vanished files are dropped, and the graph is
// recomputed. A file that cannot be read is skipped with a warning and
// picked up again by the next Rebuild.
func (r *Registry) Rebuild(ctx context.Context) error {
	r.mu.Lock()
	found := make(map[string]bool)
	err := afero.Walk(r.fs, r.root, func(p string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			r.logger.Warn("skipping unreadable path", "path", p, "error", walkErr)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel := r.rel(p)
		if info.IsDir() {
			if rel != "." && (strings.HasPrefix(info.Name(), ".") || r.excluded(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.isSource(rel) {
			return nil
		}
		found[rel] = true
		if err := r.load(rel); err != nil {
			r.logger.Warn("skipping source file until next rebuild", "path", rel, "error", err)
		}
		return nil
	})
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("scanning %s: %w", r.root, err)
	}
	for p := range r.files {
		if !found[p] {
			delete(r.files, p)
		}
	}
	r.resolve()
	r.logger.Info("dependency graph rebuilt", "files", len(r.files))
	records := r.recordsLocked()
	r.mu.Unlock()

	r.persist(ctx, records)
	return nil
}

// Upsert re-parses only the given files, then recomputes the graph.
// Paths may be registry paths or paths on the registry filesystem; paths
// that no longer exist are removed.
func (r *Registry) Upsert(ctx context.Context, paths []string) error {
	r.mu.Lock()
	changed := false
	for _, p := range paths {
		rel := r.normalize(p)
		if !r.isSource(rel) {
			continue
		}
		exists, err := afero.Exists(r.fs, r.abs(rel))
		if err != nil {
			r.logger.Warn("could not stat source file", "path", rel, "error", err)
			continue
		}
		if !exists {
			if _, ok := r.files[rel]; ok {
				delete(r.files, rel)
				changed = true
			}
			continue
		}
		if err := r.load(rel); err != nil {
			r.logger.Warn("skipping source file until next rebuild", "path", rel, "error", err)
			continue
		}
		changed = true
	}
	if !changed {
		r.mu.Unlock()
		return nil
	}
	r.resolve()
	records := r.recordsLocked()
	r.mu.Unlock()

	r.persist(ctx, records)
	return nil
}

// Remove drops a tracked file and recomputes the graph. Files that
// included it are left with a missing-include error.
func (r *Registry) Remove(ctx context.Context, p string) error {
	rel := r.normalize(p)
	r.mu.Lock()
	if _, ok := r.files[rel]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTracked, rel)
	}
	delete(r.files, rel)
	r.resolve()
	records := r.recordsLocked()
	r.mu.Unlock()

	r.persist(ctx, records)
	return nil
}

// Restore replaces the catalog with a persisted snapshot and recomputes
// the graph. It returns ErrInconsistent when a recorded file has
// vanished or the recomputed masters disagree with the snapshot; the
// registry is left empty in that case.
func (r *Registry) Restore(records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := make(map[string]*SourceFile, len(records))
	for _, rec := range records {
		exists, err := afero.Exists(r.fs, r.abs(rec.Path))
		if err != nil || !exists {
			r.files = make(map[string]*SourceFile)
			return fmt.Errorf("%w: %s no longer exists", ErrInconsistent, rec.Path)
		}
		f := &SourceFile{
			Path:              rec.Path,
			IncludePaths:      rec.IncludePaths,
			IncludeLines:      rec.IncludeLines,
			UnhandledFailures: rec.UnhandledFailures,
			LastEditTime:      rec.LastEditTime,
			LastCompileTime:   rec.LastCompileTime,
		}
		// A recorded master was resolved by the session that saved it.
		f.resolved = len(rec.Masters) == 0
		for _, d := range rec.Diagnostics {
			f.AddDiagnostic(d)
		}
		files[rec.Path] = f
	}
	r.files = files
	r.resolve()

	for _, rec := range records {
		got := r.files[rec.Path].MasterPaths()
		if !equalStrings(got, rec.Masters) {
			r.files = make(map[string]*SourceFile)
			r.graph = dag.New()
			return fmt.Errorf("%w: masters of %s changed from %v to %v", ErrInconsistent, rec.Path, rec.Masters, got)
		}
	}
	return nil
}

// Get returns the tracked file at p, or nil.
func (r *Registry) Get(p string) *SourceFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.files[r.normalize(p)]
}

// Len returns the number of tracked files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Files returns every tracked file sorted by path.
func (r *Registry) Files() []*SourceFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedFiles()
}

// Masters returns the paths of every master, sorted.
func (r *Registry) Masters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, f := range r.sortedFiles() {
		if f.IsMaster() {
			out = append(out, f.Path)
		}
	}
	return out
}

// Hierarchy returns the master followed by every file it transitively
// includes, sorted. It returns nil for an untracked path.
func (r *Registry) Hierarchy(master string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hierarchyLocked(r.normalize(master))
}

func (r *Registry) hierarchyLocked(master string) []string {
	if _, ok := r.files[master]; !ok {
		return nil
	}
	return append([]string{master}, r.graph.Ancestors(master)...)
}

// HierarchyHasErrors reports whether any file in the master's include
// hierarchy has errors.
func (r *Registry) HierarchyHasErrors(master string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.hierarchyLocked(r.normalize(master)) {
		if r.files[p].HasErrors() {
			return true
		}
	}
	return false
}

// StructuralErrors returns recursive and missing include errors found
// anywhere in the master's hierarchy. A non-empty result blocks the
// master from compiling.
func (r *Registry) StructuralErrors(master string) []Diagnostic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Diagnostic
	for _, p := range r.hierarchyLocked(r.normalize(master)) {
		out = append(out, structuralDiagnostics(r.files[p])...)
	}
	return out
}

// Clusters partitions the include graph into independent clusters.
func (r *Registry) Clusters() ([]dag.Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.Clusters()
}

// ClearDiagnostics drops previous compile results from the given files.
func (r *Registry) ClearDiagnostics(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		if f, ok := r.files[r.normalize(p)]; ok {
			f.ClearDiagnostics()
		}
	}
}

// RecordCompile files a master's compile results. Each diagnostic goes
// to the tracked file it names, falling back to the master; unhandled
// failures stay on the master. Every file in the hierarchy gets
// compiledAt as its last compile time.
func (r *Registry) RecordCompile(master string, diags []Diagnostic, unhandled []string, compiledAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	master = r.normalize(master)
	m, ok := r.files[master]
	if !ok {
		return
	}
	for _, d := range diags {
		target := m
		if f, ok := r.files[r.normalize(d.File)]; ok && d.File != "" {
			target = f
		}
		d.File = target.Path
		target.AddDiagnostic(d)
	}
	m.UnhandledFailures = append(m.UnhandledFailures, unhandled...)
	for _, p := range r.hierarchyLocked(master) {
		r.files[p].LastCompileTime = compiledAt
	}
}

// Save persists the current catalog.
func (r *Registry) Save(ctx context.Context) {
	r.mu.RLock()
	records := r.recordsLocked()
	r.mu.RUnlock()
	r.persist(ctx, records)
}

// Records returns the persisted form of every tracked file.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordsLocked()
}

func (r *Registry) recordsLocked() []Record {
	files := r.sortedFiles()
	out := make([]Record, 0, len(files))
	for _, f := range files {
		out = append(out, Record{
			Path:              f.Path,
			IncludePaths:      f.IncludePaths,
			IncludeLines:      f.IncludeLines,
			Masters:           f.MasterPaths(),
			Diagnostics:       f.Diagnostics(),
			UnhandledFailures: f.UnhandledFailures,
			LastEditTime:      f.LastEditTime,
			LastCompileTime:   f.LastCompileTime,
		})
	}
	return out
}

func (r *Registry) persist(ctx context.Context, records []Record) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveRecords(ctx, records); err != nil {
		r.logger.Warn("could not persist registry", "error", err)
	}
}

// load (re-)parses one file. Must be called with r.mu held for writing.
func (r *Registry) load(rel string) error {
	abs := r.abs(rel)
	info, err := r.fs.Stat(abs)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(r.fs, abs)
	if err != nil {
		return err
	}
	f, ok := r.files[rel]
	if !ok {
		f = &SourceFile{Path: rel}
		r.files[rel] = f
	}
	f.IncludePaths = nil
	f.IncludeLines = nil
	for _, inc := range ParseIncludes(string(data)) {
		f.IncludePaths = append(f.IncludePaths, inc.Path)
		f.IncludeLines = append(f.IncludeLines, inc.Line)
	}
	f.LastEditTime = info.ModTime()
	return nil
}

func (r *Registry) sortedFiles() []*SourceFile {
	out := make([]*SourceFile, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	sortFiles(out)
	return out
}

func (r *Registry) isSource(rel string) bool {
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}
	return strings.EqualFold(path.Ext(rel), r.ext) && !r.excluded(rel)
}

func (r *Registry) excluded(rel string) bool {
	for _, g := range r.exclude {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (r *Registry) abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// rel converts a filesystem path under the root to a registry path.
func (r *Registry) rel(p string) string {
	rel, err := filepath.Rel(r.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// normalize accepts either a registry path or a filesystem path.
func (r *Registry) normalize(p string) string {
	if filepath.IsAbs(p) && r.root != "" && filepath.IsAbs(r.root) {
		return r.rel(p)
	}
	return path.Clean(filepath.ToSlash(p))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = append([]string(nil), a...)
	b = append([]string(nil), b...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
