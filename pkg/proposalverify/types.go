package proposalverify

import (
	"github.com/bianoble/proposal-verify/internal/index"
	"github.com/bianoble/proposal-verify/internal/pipeline"
	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/report"
	"github.com/bianoble/proposal-verify/internal/state"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

// Type aliases re-export internal types as the public API.
// Users import "github.com/bianoble/proposal-verify/pkg/proposalverify" and use
// proposalverify.Report, proposalverify.Verdict, etc.

type Report = report.Report
type Trust = report.Trust
type Verdict = verdict.Verdict
type Outcome = verdict.Outcome
type Reason = verdict.Reason
type ScanResult = pipeline.ScanResult
type VerdictRecord = state.VerdictRecord
type Run = index.Run
type HistoryFilter = index.Filter
type BuildPlan = plan.BuildPlan
type Prompt = plan.Prompt

// Provider answers build plan prompts. Implement it to plug in a model the
// built-in providers do not cover.
type Provider = plan.Provider

const (
	Match        = verdict.Match
	Mismatch     = verdict.Mismatch
	Inconclusive = verdict.Inconclusive
)

const (
	ReasonProposalNotFound         = verdict.ReasonProposalNotFound
	ReasonProposalUnavailable      = verdict.ReasonProposalUnavailable
	ReasonProposalMalformed        = verdict.ReasonProposalMalformed
	ReasonCommitUnresolvable       = verdict.ReasonCommitUnresolvable
	ReasonExpectedHashUnavailable  = verdict.ReasonExpectedHashUnavailable
	ReasonPlanInferenceUnavailable = verdict.ReasonPlanInferenceUnavailable
	ReasonPlanInferenceMalformed   = verdict.ReasonPlanInferenceMalformed
	ReasonSourceUnavailable        = verdict.ReasonSourceUnavailable
	ReasonBuildFailed              = verdict.ReasonBuildFailed
	ReasonArtifactNotFound         = verdict.ReasonArtifactNotFound
	ReasonCancelled                = verdict.ReasonCancelled
)
