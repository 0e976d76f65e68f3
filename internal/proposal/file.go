package proposal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileSource reads proposal record documents from a local directory
// (<Dir>/<id>.yaml, <id>.yml or <id>.json). It is used for offline audits
// and for replaying a record captured by an earlier run.
type FileSource struct {
	Dir string
}

func (f *FileSource) Get(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, &MalformedError{ID: id, Reason: "invalid proposal id"}
	}
	if err := ctx.Err(); err != nil {
		return nil, &UnavailableError{ID: id, Err: err}
	}

	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(f.Dir, id+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &UnavailableError{ID: id, Err: fmt.Errorf("reading %s: %w", path, err)}
		}
		return parseRecordDocument(id, data)
	}
	return nil, fmt.Errorf("proposal %s in %s: %w", id, f.Dir, ErrNotFound)
}

// parseRecordDocument decodes a Record document (YAML or JSON) and applies the
// same well-formedness rules as the HTTP source.
func parseRecordDocument(id string, data []byte) (*Record, error) {
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("parsing record: %v", err)}
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("document is for proposal %s", rec.ID)}
	}
	if rec.Title == "" && rec.Summary == "" && rec.URL == "" {
		return nil, &MalformedError{ID: id, Reason: "record has no title, summary or url"}
	}

	if rec.ExpectedArtifactHash != "" {
		h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(rec.ExpectedArtifactHash)), "0x")
		if len(h)%2 != 0 || !hexRe.MatchString(h) {
			return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("expected artifact hash %q is not a hex string", rec.ExpectedArtifactHash)}
		}
		rec.ExpectedArtifactHash = h
	}
	if rec.CommitHash != "" {
		c := strings.ToLower(strings.TrimSpace(rec.CommitHash))
		if !commitRe.MatchString(c) {
			return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("commit hash %q is not 40 hex characters", rec.CommitHash)}
		}
		rec.CommitHash = c
	}
	return &rec, nil
}
