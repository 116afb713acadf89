package source

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ArtifactExtension is the extension of compiled output written next to
// each master.
const ArtifactExtension = ".json"

// Artifacts locates, writes and deletes compiled output for masters.
type Artifacts struct {
	fs   afero.Fs
	root string
}

// NewArtifacts returns an Artifacts rooted at root on fs.
func NewArtifacts(fs afero.Fs, root string) *Artifacts {
	return &Artifacts{fs: fs, root: root}
}

// Path returns the registry-relative artifact path for a source path.
func (a *Artifacts) Path(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, path.Ext(sourcePath)) + ArtifactExtension
}

// Abs returns the artifact path on the underlying filesystem.
func (a *Artifacts) Abs(sourcePath string) string {
	return filepath.Join(a.root, filepath.FromSlash(a.Path(sourcePath)))
}

// Exists reports whether an artifact for sourcePath is on disk.
func (a *Artifacts) Exists(sourcePath string) bool {
	ok, err := afero.Exists(a.fs, a.Abs(sourcePath))
	return err == nil && ok
}

// Write stores text as the artifact for sourcePath atomically (write
// temp + rename) and returns the artifact's filesystem path.
func (a *Artifacts) Write(sourcePath, text string) (string, error) {
	target := a.Abs(sourcePath)
	tmp := target + ".tmp"
	if err := afero.WriteFile(a.fs, tmp, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing temp artifact: %w", err)
	}
	if err := a.fs.Rename(tmp, target); err != nil {
		_ = a.fs.Remove(tmp)
		return "", fmt.Errorf("renaming artifact: %w", err)
	}
	return target, nil
}

// Remove deletes the artifact for sourcePath. It reports whether a file
// was actually removed.
func (a *Artifacts) Remove(sourcePath string) (bool, error) {
	if !a.Exists(sourcePath) {
		return false, nil
	}
	if err := a.fs.Remove(a.Abs(sourcePath)); err != nil {
		return false, fmt.Errorf("removing artifact %s: %w", a.Path(sourcePath), err)
	}
	return true, nil
}
