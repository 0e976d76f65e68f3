package state

import (
	"time"

	"github.com/bianoble/proposal-verify/internal/verdict"
)

// Stage names the last stage whose record was durably written.
type Stage string

const (
	StageStarted  Stage = "started"
	StageProposal Stage = "proposal"
	StagePlan     Stage = "plan"
	StageBuild    Stage = "build"
	StageDone     Stage = "done"
)

var stageOrder = map[Stage]int{
	StageStarted:  0,
	StageProposal: 1,
	StagePlan:     2,
	StageBuild:    3,
	StageDone:     4,
}

// Reached reports whether s is at or past other.
func (s Stage) Reached(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

// Run is the run.yaml document: which run owns the directory and how far it got.
type Run struct {
	Version    int        `yaml:"version"`
	RunID      string     `yaml:"runId"`
	ProposalID string     `yaml:"proposalId"`
	Stage      Stage      `yaml:"stage"`
	StartedAt  time.Time  `yaml:"startedAt"`
	UpdatedAt  time.Time  `yaml:"updatedAt"`
	FinishedAt *time.Time `yaml:"finishedAt,omitempty"`
}

// Finished reports whether the run recorded a verdict.
func (r *Run) Finished() bool {
	return r.Stage == StageDone
}

// VerdictRecord is the verdict.yaml document.
type VerdictRecord struct {
	verdict.Verdict `yaml:",inline"`
	Reasons         []string  `yaml:"reasons"`
	RunID           string    `yaml:"runId"`
	Commit          string    `yaml:"commit,omitempty"`
	Image           string    `yaml:"image,omitempty"`
	ImageDigest     string    `yaml:"imageDigest,omitempty"`
	RecordedAt      time.Time `yaml:"recordedAt"`
}
