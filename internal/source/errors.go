package source

import "errors"

var (
	// ErrNotTracked indicates a path that is not in the registry.
	ErrNotTracked = errors.New("source file not tracked")
	// ErrInconsistent indicates a persisted snapshot that no longer matches
	// the source tree. Callers recover with a full Rebuild.
	ErrInconsistent = errors.New("inconsistent registry snapshot")
)
