package source

import (
	"errors"
	"fmt"
	"sort"

	"github.com/papapumpkin/inkwell/internal/dag"
)

// resolve recomputes every derived graph field from the tracked files'
// include declarations. Must be called with r.mu held for writing.
//
// Edges that would close a cycle are never added: a self include, a
// direct mutual include, or any longer loop rejected by dag.AddEdge is
// recorded in RecursiveIncludeErrors on both ends instead.
func (r *Registry) resolve() {
	files := r.sortedFiles()
	former := make(map[string]bool)
	for _, f := range files {
		if f.resolved && f.IsMaster() {
			former[f.Path] = true
		}
		f.resetGraph()
	}

	// Resolve declared includes to tracked files.
	for _, f := range files {
		seen := make(map[string]bool)
		for _, inc := range f.IncludePaths {
			target := ResolveInclude(f.Path, inc)
			included, ok := r.files[target]
			if !ok {
				f.MissingIncludes = appendUnique(f.MissingIncludes, target)
				continue
			}
			if seen[target] {
				continue
			}
			seen[target] = true
			f.Includes = append(f.Includes, included)
		}
	}

	// Parent pass.
	g := dag.New()
	for _, f := range files {
		_ = g.AddNode(f.Path)
	}
	for _, f := range files {
		for _, included := range f.Includes {
			if included == f || includes(included, f) {
				markRecursive(f, included)
				continue
			}
			if err := g.AddEdge(f.Path, included.Path); err != nil {
				if errors.Is(err, dag.ErrCycle) {
					markRecursive(f, included)
					continue
				}
				r.logger.Warn("include edge rejected", "from", f.Path, "to", included.Path, "error", err)
				continue
			}
			included.Parents = append(included.Parents, f)
		}
	}

	// Master pass: the parentless files reachable by climbing parents.
	for _, f := range files {
		if len(f.Parents) == 0 {
			continue
		}
		for _, id := range g.Descendants(f.Path) {
			if owner := r.files[id]; len(owner.Parents) == 0 {
				f.Masters = append(f.Masters, owner)
			}
		}
	}

	for _, f := range files {
		sortFiles(f.Includes)
		sortFiles(f.Parents)
		sortFiles(f.Masters)
		sort.Strings(f.RecursiveIncludeErrors)
		sort.Strings(f.MissingIncludes)
		f.resolved = true
		if len(f.Masters) > 1 {
			r.logger.Debug("file shared by several masters", "path", f.Path, "masters", f.MasterPaths())
		}
	}
	r.graph = g

	r.invalidateArtifacts(files, former)
}

// invalidateArtifacts deletes compiled output left behind by files that
// were masters before this pass and no longer are. Artifact paths of
// files that were never masters are left alone: the name may belong to
// a file the user wrote.
func (r *Registry) invalidateArtifacts(files []*SourceFile, former map[string]bool) {
	if r.artifacts == nil {
		return
	}
	for _, f := range files {
		if f.IsMaster() || !former[f.Path] {
			continue
		}
		removed, err := r.artifacts.Remove(f.Path)
		if err != nil {
			r.logger.Warn("could not delete stale artifact", "path", f.Path, "error", err)
			continue
		}
		if removed {
			r.logger.Info("deleted artifact of former master", "path", f.Path, "artifact", r.artifacts.Path(f.Path))
		}
	}
}

func includes(f, target *SourceFile) bool {
	for _, inc := range f.Includes {
		if inc == target {
			return true
		}
	}
	return false
}

func markRecursive(a, b *SourceFile) {
	a.RecursiveIncludeErrors = appendUnique(a.RecursiveIncludeErrors, b.Path)
	b.RecursiveIncludeErrors = appendUnique(b.RecursiveIncludeErrors, a.Path)
}

// structuralDiagnostics renders f's graph errors as error diagnostics,
// pointing at the offending include line where it is known.
func structuralDiagnostics(f *SourceFile) []Diagnostic {
	var out []Diagnostic
	for _, other := range f.RecursiveIncludeErrors {
		out = append(out, Diagnostic{
			Severity: SeverityError,
			File:     f.Path,
			Line:     f.includeLine(other),
			Message:  fmt.Sprintf("recursive INCLUDE of %s", other),
		})
	}
	for _, missing := range f.MissingIncludes {
		out = append(out, Diagnostic{
			Severity: SeverityError,
			File:     f.Path,
			Line:     f.includeLine(missing),
			Message:  fmt.Sprintf("INCLUDE target %s not found", missing),
		})
	}
	return out
}

// includeLine returns the line declaring an include that resolves to
// target, or 0 when the file does not declare one.
func (f *SourceFile) includeLine(target string) int {
	for i, inc := range f.IncludePaths {
		if ResolveInclude(f.Path, inc) == target && i < len(f.IncludeLines) {
			return f.IncludeLines[i]
		}
	}
	return 0
}
