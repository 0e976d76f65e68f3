package plan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider is a generative model endpoint.
type Provider interface {
	// Name identifies the provider and model for the trust statement.
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// UnavailableError reports that the model could not be reached or did not
// answer in time. It is distinct from a malformed answer.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("plan inference via %s failed: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Result is the tagged outcome of one inference call. Raw is kept for audit
// whatever the outcome. Exactly one of Plan and Err is set.
type Result struct {
	Plan *BuildPlan
	Raw  string
	Err  error
}

// Inferrer asks a Provider for a build plan and validates the answer.
type Inferrer struct {
	Provider Provider
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Infer renders the prompt, calls the provider once and parses the answer
// strictly. No retry, no repair.
func (i *Inferrer) Infer(ctx context.Context, req Request) Result {
	logger := i.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	prompt, err := RenderPrompt(req)
	if err != nil {
		return Result{Err: err}
	}

	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := i.Provider.Complete(ctx, prompt)
	logger.Debug("plan inference finished",
		zap.String("provider", i.Provider.Name()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_bytes", len(raw)))
	if err != nil {
		return Result{Raw: raw, Err: &UnavailableError{Provider: i.Provider.Name(), Err: err}}
	}

	plan, err := ParsePlan(raw, req.Commit)
	if err != nil {
		logger.Warn("rejected build plan response", zap.String("proposal", req.ProposalID), zap.Error(err))
		return Result{Raw: raw, Err: err}
	}
	return Result{Plan: plan, Raw: raw}
}
