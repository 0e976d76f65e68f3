package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bianoble/proposal-verify/internal/sandbox"
)

// workspacePath maps a plan's declared output path onto the host workspace.
// Container-absolute paths under ContainerWorkdir are accepted, as are paths
// relative to it. Anything resolving outside the workspace is rejected.
func workspacePath(workspace, declared string) (string, error) {
	p := declared
	if path.IsAbs(p) {
		cleaned := path.Clean(p)
		if cleaned != ContainerWorkdir && !strings.HasPrefix(cleaned, ContainerWorkdir+"/") {
			return "", fmt.Errorf("output path %q is outside %s", declared, ContainerWorkdir)
		}
		p = strings.TrimPrefix(strings.TrimPrefix(cleaned, ContainerWorkdir), "/")
	}
	if p == "" {
		return "", fmt.Errorf("output path %q names the workspace itself", declared)
	}
	return sandbox.Contain(workspace, filepath.FromSlash(p))
}

// searchArtifacts walks the workspace for files carrying one of the artifact
// extensions, at most maxDepth directories deep, returning at most limit
// workspace-relative paths in lexical order. The .git directory is skipped.
func searchArtifacts(workspace string, exts []string, maxDepth, limit int) []string {
	if limit <= 0 {
		return nil
	}
	var found []string
	_ = filepath.WalkDir(workspace, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(workspace, p)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			if d.Name() == ".git" || depth >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasExtension(d.Name(), exts) {
			return nil
		}
		found = append(found, filepath.ToSlash(rel))
		if len(found) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func hasExtension(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// readArtifact reads a regular file, refusing directories and anything
// larger than maxSize.
func readArtifact(p string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("not a regular file")
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("artifact is %d bytes, limit is %d", info.Size(), maxSize)
	}
	return os.ReadFile(p)
}
