package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/verdict"
)

// Process exit codes.
const (
	ExitMatch        = 0
	ExitMismatch     = 1
	ExitInconclusive = 2
	ExitUsage        = 64
	ExitInternal     = 70
)

// ExitError carries a specific exit code out of a command. Err, when set,
// is printed before exiting.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// isUsageError recognizes cobra's own command-resolution errors.
func isUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") || strings.HasPrefix(msg, "unknown shorthand flag")
}

// outcomeCode maps a verdict to its exit code.
func outcomeCode(o verdict.Outcome) int {
	switch o {
	case verdict.Match:
		return ExitMatch
	case verdict.Mismatch:
		return ExitMismatch
	default:
		return ExitInconclusive
	}
}

// severity orders exit codes for aggregating a scan. A mismatch outranks an
// inconclusive run: it is positive evidence against the claim.
func severity(code int) int {
	switch code {
	case ExitInternal:
		return 3
	case ExitMismatch:
		return 2
	case ExitInconclusive:
		return 1
	default:
		return 0
	}
}
