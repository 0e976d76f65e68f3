// Package proposal reads canonical governance proposal records from the
// on-chain data source. Records are read-only inputs to a verification run.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Record is the canonical on-chain record of a proposal.
// Structured fields are empty when the proposal carries no well-formed
// action payload; free-text recovery only ever fills the gaps.
type Record struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	Summary string `yaml:"summary" json:"summary"`
	URL     string `yaml:"url" json:"url"`

	// Action is the proposal action type as reported by the ledger (e.g. "InstallCode").
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	TargetResourceID string `yaml:"targetResourceId,omitempty" json:"targetResourceId,omitempty"`

	// ExpectedArtifactHash is the raw on-chain hash rendered as lowercase hex.
	ExpectedArtifactHash string `yaml:"expectedArtifactHash,omitempty" json:"expectedArtifactHash,omitempty"`

	// CommitHash is a 40 character lowercase hex source-control object id.
	CommitHash string `yaml:"commitHash,omitempty" json:"commitHash,omitempty"`

	FetchedAt time.Time `yaml:"fetchedAt" json:"fetchedAt"`
}

// HasStructuredAction reports whether the record carried a usable action payload.
func (r *Record) HasStructuredAction() bool {
	return r.ExpectedArtifactHash != "" || r.TargetResourceID != "" || r.CommitHash != ""
}

// Text returns the free-text fields joined for reference extraction.
func (r *Record) Text() string {
	return r.Title + "\n" + r.Summary + "\n" + r.URL
}

// Source returns canonical proposal records.
type Source interface {
	// Get returns the proposal with the given identifier. It returns an error
	// wrapping ErrNotFound when the ledger has no such proposal, a
	// *MalformedError when the record cannot be decoded, and an
	// *UnavailableError for transport failures.
	Get(ctx context.Context, id string) (*Record, error)
}

// ErrNotFound is returned when the data source has no proposal with the requested id.
var ErrNotFound = errors.New("proposal not found")

// MalformedError reports a record that exists but cannot be used.
type MalformedError struct {
	ID     string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("proposal %s is malformed: %s", e.ID, e.Reason)
}

// UnavailableError reports a transport-level failure talking to the data source.
// It is the only proposal error worth retrying.
type UnavailableError struct {
	ID         string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("proposal %s: data source returned HTTP %d: %v", e.ID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("proposal %s: data source unavailable: %v", e.ID, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
