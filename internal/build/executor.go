// Package build reproduces a proposal's artifact: it checks out the exact
// commit into a throwaway workspace, runs the inferred plan inside a pinned
// build image, and reads back the declared output.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

// workspacePattern names per-run workspaces so stale ones can be found.
const workspacePattern = "pv-build-*"

// DefaultMaxArtifactSize bounds how much of a produced artifact is read back.
const DefaultMaxArtifactSize int64 = 512 << 20

// Artifact is the file a build produced at its declared output path.
type Artifact struct {
	Path  string // workspace-relative
	Bytes []byte
	Size  int64
}

// Executor runs build plans. The zero value is not usable; Git, Runtime,
// RepoURL and Image must be set.
type Executor struct {
	Git     Fetcher
	Runtime Runtime

	RepoURL string
	Image   string
	Network string

	WorkRoot           string        // parent of per-run workspaces, default os.TempDir()
	Timeout            time.Duration // bound on all steps together, zero means none
	ArtifactExtensions []string
	SearchDepth        int
	MaxCandidates      int
	MaxArtifactSize    int64

	Logger *zap.Logger
}

// Execute checks out commit, runs p's steps in order and returns the
// artifact at p's output path. Build output is written to out, which may be
// nil. The workspace is removed before Execute returns on every path.
func (e *Executor) Execute(ctx context.Context, commit string, p *plan.BuildPlan, out io.Writer) (*Artifact, error) {
	if p == nil {
		return nil, errors.New("build plan is required")
	}
	if out == nil {
		out = io.Discard
	}
	log := e.logger().With(zap.String("commit", commit))

	ws, err := e.createWorkspace()
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.RemoveAll(ws); rmErr != nil {
			log.Warn("removing workspace", zap.String("path", ws), zap.Error(rmErr))
		}
	}()

	log.Debug("fetching source", zap.String("repo", e.RepoURL), zap.String("workspace", ws))
	if err := e.Git.Fetch(ctx, e.RepoURL, commit, ws); err != nil {
		if ctx.Err() != nil {
			return nil, &StageError{Reason: verdict.ReasonCancelled, Err: ctx.Err()}
		}
		return nil, &StageError{Reason: verdict.ReasonSourceUnavailable, Err: err}
	}

	if err := e.runSteps(ctx, ws, commit, p.Steps, out, log); err != nil {
		return nil, err
	}

	return e.collect(ws, p.OutputPath)
}

func (e *Executor) createWorkspace() (string, error) {
	root := e.WorkRoot
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", fmt.Errorf("creating work dir: %w", err)
		}
	}
	ws, err := os.MkdirTemp(root, workspacePattern)
	if err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}
	// Resolve so the mount source and containment checks agree on one path.
	if real, err := filepath.EvalSymlinks(ws); err == nil {
		ws = real
	}
	return ws, nil
}

func (e *Executor) runSteps(ctx context.Context, ws, commit string, steps []string, out io.Writer, log *zap.Logger) error {
	stepCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	for i, step := range steps {
		fmt.Fprintf(out, "==> step %d: %s\n", i, step)
		log.Debug("running step", zap.Int("step", i), zap.String("command", step))

		code, err := e.Runtime.Run(stepCtx, RunSpec{
			Image:     e.Image,
			Workspace: ws,
			Command:   step,
			Network:   e.Network,
			Output:    out,
		})
		switch {
		case ctx.Err() != nil:
			return &StageError{Reason: verdict.ReasonCancelled, StepIndex: i, Err: ctx.Err()}
		case stepCtx.Err() != nil:
			fmt.Fprintf(out, "==> step %d timed out after %s\n", i, e.Timeout)
			return &StageError{Reason: verdict.ReasonBuildFailed, StepIndex: i, ExitCode: -1, TimedOut: true, Err: stepCtx.Err()}
		case err != nil:
			return &StageError{Reason: verdict.ReasonBuildFailed, StepIndex: i, ExitCode: -1, Err: err}
		case code != 0:
			fmt.Fprintf(out, "==> step %d exited with code %d\n", i, code)
			return &StageError{Reason: verdict.ReasonBuildFailed, StepIndex: i, ExitCode: code}
		}

		// A step that moves the checkout would build some other commit.
		head, err := e.Git.Head(ctx, ws)
		if err != nil {
			if ctx.Err() != nil {
				return &StageError{Reason: verdict.ReasonCancelled, StepIndex: i, Err: ctx.Err()}
			}
			return &StageError{Reason: verdict.ReasonBuildFailed, StepIndex: i, MovedHead: "unknown", Err: err}
		}
		if head != commit {
			fmt.Fprintf(out, "==> step %d moved HEAD to %s\n", i, head)
			return &StageError{Reason: verdict.ReasonBuildFailed, StepIndex: i, MovedHead: head}
		}
	}
	return nil
}

func (e *Executor) collect(ws, declared string) (*Artifact, error) {
	notFound := func(err error) error {
		return &StageError{
			Reason:       verdict.ReasonArtifactNotFound,
			DeclaredPath: declared,
			Candidates:   searchArtifacts(ws, e.extensions(), e.searchDepth(), e.maxCandidates()),
			Err:          err,
		}
	}

	p, err := workspacePath(ws, declared)
	if err != nil {
		return nil, notFound(err)
	}
	maxSize := e.MaxArtifactSize
	if maxSize == 0 {
		maxSize = DefaultMaxArtifactSize
	}
	data, err := readArtifact(p, maxSize)
	if err != nil {
		return nil, notFound(err)
	}

	rel, _ := filepath.Rel(ws, p)
	return &Artifact{Path: filepath.ToSlash(rel), Bytes: data, Size: int64(len(data))}, nil
}

func (e *Executor) extensions() []string {
	if len(e.ArtifactExtensions) > 0 {
		return e.ArtifactExtensions
	}
	return []string{".wasm", ".wasm.gz"}
}

func (e *Executor) searchDepth() int {
	if e.SearchDepth > 0 {
		return e.SearchDepth
	}
	return 8
}

func (e *Executor) maxCandidates() int {
	if e.MaxCandidates > 0 {
		return e.MaxCandidates
	}
	return 20
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// StaleWorkspaces lists workspaces under root (default os.TempDir()) last
// modified before cutoff. Workspaces are normally removed when a build
// ends; these were left by a process that did not exit cleanly.
func StaleWorkspaces(root string, cutoff time.Time) ([]string, error) {
	if root == "" {
		root = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(root, workspacePattern))
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, m := range matches {
		info, err := os.Lstat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if cutoff.IsZero() || info.ModTime().Before(cutoff) {
			stale = append(stale, m)
		}
	}
	return stale, nil
}
