// Package state persists the records of each verification run under
// <dir>/runs/<proposal-id>/. Every document is written atomically and
// durably before the pipeline moves on, so a crashed run can be inspected
// or resumed.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/proposal"
	"github.com/bianoble/proposal-verify/internal/sandbox"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

const (
	RunFile       = "run.yaml"
	ProposalFile  = "proposal.yaml"
	InferenceFile = "inference.txt"
	PlanFile      = "plan.yaml"
	BuildLogFile  = "build.log"
	VerdictFile   = "verdict.yaml"
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidID reports whether id can name a run directory.
func ValidID(id string) bool {
	return idRe.MatchString(id) && !strings.Contains(id, "..")
}

// ErrNoRun is returned when a proposal has no recorded run.
var ErrNoRun = errors.New("no recorded run")

// Store reads and writes run records below Dir.
type Store struct {
	Dir string
}

func (s *Store) runsDir() (string, error) {
	dir := filepath.Join(s.Dir, "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating state dir: %w", err)
	}
	return dir, nil
}

// RunDir returns the directory holding records for proposal id, creating it.
func (s *Store) RunDir(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("invalid proposal id %q", id)
	}
	runs, err := s.runsDir()
	if err != nil {
		return "", err
	}
	dir, err := sandbox.Contain(runs, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	return dir, nil
}

// Reset removes every record of proposal id.
func (s *Store) Reset(id string) error {
	dir, err := s.RunDir(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// IDs lists proposal ids with a run directory, sorted.
func (s *Store) IDs() ([]string, error) {
	runs, err := s.runsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(runs)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) write(id, name string, data []byte) error {
	dir, err := s.RunDir(id)
	if err != nil {
		return err
	}
	if err := sandbox.WriteFile(dir, name, data, 0644); err != nil {
		return fmt.Errorf("writing %s for proposal %s: %w", name, id, err)
	}
	return nil
}

func (s *Store) read(id, name string) ([]byte, error) {
	dir, err := s.RunDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s for proposal %s: %w", name, id, ErrNoRun)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s for proposal %s: %w", name, id, err)
	}
	return data, nil
}

func (s *Store) saveYAML(id, name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return s.write(id, name, data)
}

func (s *Store) loadYAML(id, name string, v any) error {
	data, err := s.read(id, name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s for proposal %s: %w", name, id, err)
	}
	return nil
}

// SaveRun writes run.yaml.
func (s *Store) SaveRun(r *Run) error {
	if errs := ValidateRun(r); len(errs) > 0 {
		return &ValidationError{File: RunFile, Errors: errs}
	}
	return s.saveYAML(r.ProposalID, RunFile, r)
}

// LoadRun reads and validates run.yaml.
func (s *Store) LoadRun(id string) (*Run, error) {
	var r Run
	if err := s.loadYAML(id, RunFile, &r); err != nil {
		return nil, err
	}
	if errs := ValidateRun(&r); len(errs) > 0 {
		return nil, &ValidationError{File: RunFile, Errors: errs}
	}
	if r.ProposalID != id {
		return nil, &ValidationError{File: RunFile, Errors: []string{fmt.Sprintf("run belongs to proposal %s", r.ProposalID)}}
	}
	return &r, nil
}

func (s *Store) SaveProposal(rec *proposal.Record) error {
	return s.saveYAML(rec.ID, ProposalFile, rec)
}

func (s *Store) LoadProposal(id string) (*proposal.Record, error) {
	var rec proposal.Record
	if err := s.loadYAML(id, ProposalFile, &rec); err != nil {
		return nil, err
	}
	if rec.ID != id {
		return nil, &ValidationError{File: ProposalFile, Errors: []string{fmt.Sprintf("record is for proposal %s", rec.ID)}}
	}
	return &rec, nil
}

// SaveInference keeps the raw model response, valid or not, for audit.
func (s *Store) SaveInference(id, raw string) error {
	return s.write(id, InferenceFile, []byte(raw))
}

func (s *Store) LoadInference(id string) (string, error) {
	data, err := s.read(id, InferenceFile)
	return string(data), err
}

func (s *Store) SavePlan(id string, p *plan.BuildPlan) error {
	return s.saveYAML(id, PlanFile, p)
}

// LoadPlan reads plan.yaml and re-checks it with the same rules applied to
// a fresh inference response.
func (s *Store) LoadPlan(id string) (*plan.BuildPlan, error) {
	var p plan.BuildPlan
	if err := s.loadYAML(id, PlanFile, &p); err != nil {
		return nil, err
	}
	var errs []string
	if len(p.Steps) == 0 {
		errs = append(errs, "'steps' must not be empty")
	}
	if strings.TrimSpace(p.OutputPath) == "" {
		errs = append(errs, "'outputPath' is required")
	}
	if len(p.CommitHash) != 40 {
		errs = append(errs, "'commitHash' must be 40 hex characters")
	}
	if len(errs) > 0 {
		return nil, &ValidationError{File: PlanFile, Errors: errs}
	}
	return &p, nil
}

// BuildLog opens build.log for appending.
func (s *Store) BuildLog(id string) (*os.File, error) {
	dir, err := s.RunDir(id)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, BuildLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (s *Store) SaveVerdict(id string, rec *VerdictRecord) error {
	if errs := ValidateVerdict(rec); len(errs) > 0 {
		return &ValidationError{File: VerdictFile, Errors: errs}
	}
	return s.saveYAML(id, VerdictFile, rec)
}

func (s *Store) LoadVerdict(id string) (*VerdictRecord, error) {
	var rec VerdictRecord
	if err := s.loadYAML(id, VerdictFile, &rec); err != nil {
		return nil, err
	}
	if errs := ValidateVerdict(&rec); len(errs) > 0 {
		return nil, &ValidationError{File: VerdictFile, Errors: errs}
	}
	return &rec, nil
}

// ValidationError holds multiple validation failures for one record.
type ValidationError struct {
	File   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed:\n  - %s", e.File, strings.Join(e.Errors, "\n  - "))
}

// ValidateRun checks a Run for semantic correctness.
func ValidateRun(r *Run) []string {
	var errs []string
	if r.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", r.Version))
	}
	if r.RunID == "" {
		errs = append(errs, "'runId' is required")
	}
	if !ValidID(r.ProposalID) {
		errs = append(errs, fmt.Sprintf("invalid proposal id %q", r.ProposalID))
	}
	if _, ok := stageOrder[r.Stage]; !ok {
		errs = append(errs, fmt.Sprintf("unknown stage %q", r.Stage))
	}
	return errs
}

// ValidateVerdict checks that a verdict record is internally consistent:
// a reason exactly when inconclusive, and a produced hash exactly when the
// build succeeded.
func ValidateVerdict(rec *VerdictRecord) []string {
	var errs []string
	switch rec.Outcome {
	case verdict.Match, verdict.Mismatch:
		if rec.Reason != verdict.ReasonNone {
			errs = append(errs, fmt.Sprintf("verdict %s must not carry a reason", rec.Outcome))
		}
		if rec.ProducedHash == nil {
			errs = append(errs, fmt.Sprintf("verdict %s requires 'producedHash'", rec.Outcome))
		}
		if rec.Outcome == verdict.Match && rec.ProducedHash != nil && *rec.ProducedHash != rec.ExpectedHash {
			errs = append(errs, "verdict match with differing hashes")
		}
	case verdict.Inconclusive:
		if rec.Reason == verdict.ReasonNone {
			errs = append(errs, "verdict inconclusive requires 'reason'")
		}
		if rec.ProducedHash != nil {
			errs = append(errs, "verdict inconclusive must not carry 'producedHash'")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown verdict %q", rec.Outcome))
	}
	if rec.RunID == "" {
		errs = append(errs, "'runId' is required")
	}
	return errs
}
