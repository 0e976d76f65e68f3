// Package sandbox confines filesystem access to a root directory. It is
// used wherever a path comes from untrusted input (a model-proposed output
// path) and wherever a run writes its records.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EscapeError reports a path that resolves outside its root.
type EscapeError struct {
	Path     string
	Resolved string
	Root     string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("path '%s' resolves to '%s' which is outside '%s'", e.Path, e.Resolved, e.Root)
}

// Contain resolves target against root and verifies the result stays inside
// root after symlink resolution. target may be relative to root or absolute;
// an absolute target must itself lie within root.
// Returns the resolved absolute path.
func Contain(root, target string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving root symlinks: %w", err)
	}

	var candidate string
	switch {
	case filepath.IsAbs(target) && within(absRoot, filepath.Clean(target)):
		rel, relErr := filepath.Rel(absRoot, filepath.Clean(target))
		if relErr != nil {
			return "", fmt.Errorf("resolving target path: %w", relErr)
		}
		candidate = filepath.Join(realRoot, rel)
	case filepath.IsAbs(target):
		candidate = filepath.Clean(target)
	default:
		candidate = filepath.Clean(filepath.Join(realRoot, target))
	}

	// The path may not exist yet, so resolve as much as we can.
	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving target path: %w", err)
	}

	if !within(realRoot, resolved) {
		return "", &EscapeError{Path: target, Resolved: resolved, Root: realRoot}
	}
	return resolved, nil
}

// within reports whether path is root or below it.
// The trailing separator keeps "root2" from matching "root".
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExistingPath resolves symlinks for the longest existing prefix of the path,
// then appends the non-existing suffix.
func resolveExistingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if dir == path {
		return path, nil
	}

	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// WriteFile durably and atomically writes content to relPath within root:
// temp file in the same directory, fsync, rename, then fsync of the
// directory so the rename itself survives a crash.
func WriteFile(root, relPath string, content []byte, perm os.FileMode) error {
	resolved, err := Contain(root, relPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".proposal-verify-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", resolved, err)
	}
	success = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
