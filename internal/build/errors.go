package build

import (
	"fmt"
	"strings"

	"github.com/bianoble/proposal-verify/internal/verdict"
)

// StageError is a modeled build failure. Every field besides Reason and Err
// is set only for the reasons it applies to.
type StageError struct {
	Reason verdict.Reason

	// BuildFailed.
	StepIndex int
	ExitCode  int
	TimedOut  bool
	MovedHead string // set when the checkout left the requested commit

	// ArtifactNotFound.
	DeclaredPath string
	Candidates   []string

	Err error
}

func (e *StageError) Error() string {
	switch e.Reason {
	case verdict.ReasonBuildFailed:
		if e.TimedOut {
			return fmt.Sprintf("build step %d timed out", e.StepIndex)
		}
		if e.MovedHead != "" {
			if e.Err != nil {
				return fmt.Sprintf("build step %d left the checkout unreadable: %v", e.StepIndex, e.Err)
			}
			return fmt.Sprintf("build step %d moved HEAD to %s", e.StepIndex, e.MovedHead)
		}
		if e.Err != nil {
			return fmt.Sprintf("build step %d could not run: %v", e.StepIndex, e.Err)
		}
		return fmt.Sprintf("build step %d exited with code %d", e.StepIndex, e.ExitCode)
	case verdict.ReasonArtifactNotFound:
		msg := fmt.Sprintf("artifact not found at declared path %s", e.DeclaredPath)
		if len(e.Candidates) > 0 {
			msg += " (candidates: " + strings.Join(e.Candidates, ", ") + ")"
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	case verdict.ReasonSourceUnavailable:
		return fmt.Sprintf("source unavailable: %v", e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}
