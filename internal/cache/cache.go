// Package cache retains produced artifacts by digest, with a small sidecar
// recording which proposal and commit produced them. Entries are verified
// against their digest whenever they are read.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/proposal-verify/internal/sandbox"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

// Provenance records where a cached artifact came from.
type Provenance struct {
	ProposalID string    `yaml:"proposalId"`
	RunID      string    `yaml:"runId"`
	Commit     string    `yaml:"commit"`
	Image      string    `yaml:"image"`
	OutputPath string    `yaml:"outputPath"`
	StoredAt   time.Time `yaml:"storedAt"`
}

// Entry is one cached artifact.
type Entry struct {
	Key        string
	Size       int64
	Provenance Provenance
}

// Cache is a content-addressed artifact store rooted at a directory.
type Cache struct {
	dir string
}

// New creates a Cache at the given directory, creating it if needed.
func New(dir string) (*Cache, error) {
	objDir := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(objDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", objDir, err)
	}
	return &Cache{dir: dir}, nil
}

// DefaultDir returns the default cache directory.
// Uses XDG_CACHE_HOME if set, otherwise ~/.cache/proposal-verify.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "proposal-verify")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "proposal-verify-cache")
		}
		return filepath.Join("/tmp", "proposal-verify-cache")
	}
	return filepath.Join(home, ".cache", "proposal-verify")
}

// Key formats the cache key for a digest: "<algorithm>:<hex>".
func Key(algorithm, hexDigest string) string {
	return algorithm + ":" + hexDigest
}

func splitKey(key string) (string, string, error) {
	alg, digest, ok := strings.Cut(key, ":")
	if !ok || alg == "" || digest == "" {
		return "", "", fmt.Errorf("invalid cache key %q", key)
	}
	want, err := verdict.Algorithm(digest)
	if err != nil {
		return "", "", fmt.Errorf("invalid cache key %q: %w", key, err)
	}
	if want != alg {
		return "", "", fmt.Errorf("invalid cache key %q: digest length implies %s", key, want)
	}
	return alg, digest, nil
}

// relPath lays entries out as artifacts/<alg>/<hh>/<hex>.
func relPath(alg, digest string) string {
	return filepath.Join("artifacts", alg, digest[:2], digest)
}

// Put stores an artifact under its digest computed with algorithm and
// returns the key. Storing existing content again only refreshes the sidecar.
func (c *Cache) Put(algorithm string, content []byte, prov Provenance) (string, error) {
	digest := verdict.Digest(algorithm, content)
	key := Key(algorithm, digest)
	rel := relPath(algorithm, digest)

	if !c.Has(key) {
		if err := sandbox.WriteFile(c.dir, rel, content, 0644); err != nil {
			return "", fmt.Errorf("storing artifact %s: %w", key, err)
		}
	}

	meta, err := yaml.Marshal(prov)
	if err != nil {
		return "", fmt.Errorf("marshaling provenance: %w", err)
	}
	if err := sandbox.WriteFile(c.dir, rel+".yaml", meta, 0644); err != nil {
		return "", fmt.Errorf("storing provenance for %s: %w", key, err)
	}
	return key, nil
}

// Get retrieves an artifact by key. A missing entry is a miss; an entry whose
// content no longer matches its digest is removed and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	alg, digest, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}
	path := filepath.Join(c.dir, relPath(alg, digest))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	if verdict.Digest(alg, data) != digest {
		_ = os.Remove(path)
		_ = os.Remove(path + ".yaml")
		return nil, false, nil
	}
	return data, true, nil
}

// Has checks if a key exists in the cache without reading content.
func (c *Cache) Has(key string) bool {
	alg, digest, err := splitKey(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(c.dir, relPath(alg, digest)))
	return err == nil
}

// Entries lists cached artifacts. Entries whose sidecar is missing or
// unreadable are listed with empty provenance.
func (c *Cache) Entries() ([]Entry, error) {
	var entries []Entry
	root := filepath.Join(c.dir, "artifacts")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := Entry{Key: Key(parts[0], parts[2]), Size: info.Size()}
		if meta, err := os.ReadFile(path + ".yaml"); err == nil {
			_ = yaml.Unmarshal(meta, &e.Provenance)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Prune removes entries stored before cutoff and returns how many were
// removed and the bytes freed. A zero cutoff removes everything.
func (c *Cache) Prune(cutoff time.Time) (int, int64, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, 0, err
	}
	var removed int
	var freed int64
	for _, e := range entries {
		if !cutoff.IsZero() && !e.Provenance.StoredAt.IsZero() && !e.Provenance.StoredAt.Before(cutoff) {
			continue
		}
		alg, digest, err := splitKey(e.Key)
		if err != nil {
			continue
		}
		path := filepath.Join(c.dir, relPath(alg, digest))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, freed, fmt.Errorf("removing %s: %w", e.Key, err)
		}
		_ = os.Remove(path + ".yaml")
		removed++
		freed += e.Size
	}
	return removed, freed, nil
}

// Size returns the total size of the cache in bytes.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Path returns the cache directory path.
func (c *Cache) Path() string {
	return c.dir
}
