package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/bianoble/proposal-verify/internal/build"
	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/index"
	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/proposal"
	"github.com/bianoble/proposal-verify/internal/report"
	"github.com/bianoble/proposal-verify/internal/state"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

// opencensus, pulled in through the gemini client, starts its stats worker
// from init.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const testCommit = "0123456789abcdef0123456789abcdef01234567"

var (
	wasm         = []byte("\x00asm\x01\x00\x00\x00runtime")
	wasmHash     = verdict.Digest("sha256", wasm)
	otherHash    = verdict.Digest("sha256", []byte("something else"))
	acceptedPlan = &plan.BuildPlan{CommitHash: testCommit, Steps: []string{"make wasm"}, OutputPath: "/src/out/runtime.wasm"}
)

type fakeSource struct {
	mu      sync.Mutex
	records map[string]*proposal.Record
	err     error
	calls   int
}

func (f *fakeSource) Get(_ context.Context, id string) (*proposal.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, proposal.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

type fakePlanner struct {
	result plan.Result
	calls  atomic.Int32
}

func (f *fakePlanner) Infer(_ context.Context, req plan.Request) plan.Result {
	f.calls.Add(1)
	if f.result.Plan != nil {
		p := *f.result.Plan
		p.CommitHash = req.Commit
		return plan.Result{Plan: &p, Raw: f.result.Raw}
	}
	return f.result
}

type fakeBuilder struct {
	artifact []byte
	err      error
	block    bool
	onStart  func()

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeBuilder) Execute(ctx context.Context, _ string, p *plan.BuildPlan, out io.Writer) (*build.Artifact, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	_, _ = io.WriteString(out, "building\n")
	if f.onStart != nil {
		f.onStart()
	}
	if f.block {
		<-ctx.Done()
		return nil, &build.StageError{Reason: verdict.ReasonCancelled, Err: ctx.Err()}
	}
	if f.err != nil {
		return nil, f.err
	}
	time.Sleep(time.Millisecond)
	return &build.Artifact{Path: strings.TrimPrefix(p.OutputPath, "/src/"), Bytes: f.artifact, Size: int64(len(f.artifact))}, nil
}

type fakeImages struct{}

func (fakeImages) ImageDigest(context.Context, string) (string, error) {
	return "sha256:feedface", nil
}

type fixture struct {
	source   *fakeSource
	planner  *fakePlanner
	builder  *fakeBuilder
	verifier *Verifier
	index    *index.Index
}

func structuredRecord(id string) *proposal.Record {
	return &proposal.Record{
		ID:                   id,
		Title:                "Upgrade runtime",
		Summary:              "Build with make wasm.",
		URL:                  "https://forum.example/t/" + id,
		Action:               "InstallCode",
		CommitHash:           testCommit,
		ExpectedArtifactHash: wasmHash,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	idx, err := index.Open(filepath.Join(dir, "index.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	artifacts, err := cache.New(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	f := &fixture{
		source:  &fakeSource{records: map[string]*proposal.Record{"42": structuredRecord("42")}},
		planner: &fakePlanner{result: plan.Result{Plan: acceptedPlan, Raw: `{"steps":["make wasm"],"wasmOutputPath":"/src/out/runtime.wasm"}`}},
		builder: &fakeBuilder{artifact: wasm},
		index:   idx,
	}
	var seq atomic.Int32
	f.verifier = &Verifier{
		Proposals: f.source,
		Planner:   f.planner,
		Builder:   f.builder,
		Images:    fakeImages{},
		Store:     &state.Store{Dir: filepath.Join(dir, "state")},
		Cache:     artifacts,
		Index:     idx,
		Trust:     report.Trust{Repository: "https://example.com/runtime.git", Image: "builder:1", Runtime: "docker"},
		Logger:    zaptest.NewLogger(t),
		NewRunID: func() string {
			return "run-" + string(rune('0'+seq.Add(1)))
		},
	}
	return f
}

func (f *fixture) runFile(t *testing.T, id, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.verifier.Store.Dir, "runs", id, name))
	require.NoError(t, err)
	return string(data)
}

func TestVerifyMatch(t *testing.T) {
	f := newFixture(t)

	rep, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	assert.Equal(t, verdict.Match, rep.Verdict.Outcome)
	assert.Equal(t, verdict.ReasonNone, rep.Verdict.Reason)
	require.NotNil(t, rep.Verdict.ProducedHash)
	assert.Equal(t, wasmHash, *rep.Verdict.ProducedHash)
	assert.Equal(t, testCommit, rep.Commit)
	assert.Equal(t, "structured", rep.CommitOrigin)
	assert.Equal(t, "Upgrade runtime", rep.Title)
	assert.Equal(t, "sha256:feedface", rep.Trust.ImageDigest)
	require.NotNil(t, rep.Artifact)
	assert.Equal(t, "out/runtime.wasm", rep.Artifact.Path)
	assert.Equal(t, "sha256:"+wasmHash, rep.Artifact.CacheKey)
	assert.True(t, f.verifier.Cache.Has(rep.Artifact.CacheKey))

	run, err := f.verifier.Store.LoadRun("42")
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.NotNil(t, run.FinishedAt)

	rec, err := f.verifier.Store.LoadVerdict("42")
	require.NoError(t, err)
	assert.Equal(t, verdict.Match, rec.Outcome)
	assert.Equal(t, rep.RunID, rec.RunID)
	assert.Equal(t, "builder:1", rec.Image)
	assert.Equal(t, "sha256:feedface", rec.ImageDigest)

	assert.Contains(t, f.runFile(t, "42", state.BuildLogFile), "building")
	assert.Contains(t, f.runFile(t, "42", state.InferenceFile), "wasmOutputPath")

	latest, err := f.index.Latest(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "match", latest.Outcome)
	assert.Equal(t, "builder:1@sha256:feedface", latest.Image)
}

func TestVerifyMismatch(t *testing.T) {
	f := newFixture(t)
	f.source.records["42"].ExpectedArtifactHash = otherHash

	rep, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	assert.Equal(t, verdict.Mismatch, rep.Verdict.Outcome)
	assert.Equal(t, otherHash, rep.Verdict.ExpectedHash)
	require.NotNil(t, rep.Verdict.ProducedHash)
	assert.Equal(t, wasmHash, *rep.Verdict.ProducedHash)
	assert.Contains(t, f.runFile(t, "42", state.VerdictFile), "verdict: mismatch")
}

func TestVerifyTextFallbackReferences(t *testing.T) {
	f := newFixture(t)
	rec := f.source.records["42"]
	rec.Action = ""
	rec.CommitHash = ""
	rec.ExpectedArtifactHash = ""
	rec.Summary = "Built from commit " + testCommit + ".\nWasm module hash: " + strings.ToUpper(wasmHash)

	rep, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	assert.Equal(t, verdict.Match, rep.Verdict.Outcome)
	assert.Equal(t, "text", rep.CommitOrigin)
	assert.Equal(t, "text", rep.HashOrigin)
}

func TestVerifyInconclusiveShortCircuits(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(f *fixture)
		id           string
		wantReason   verdict.Reason
		wantPlanner  int32
		wantBuilder  int32
		wantExpected string
	}{
		{
			name:       "proposal not found",
			setup:      func(f *fixture) {},
			id:         "404",
			wantReason: verdict.ReasonProposalNotFound,
		},
		{
			name: "proposal malformed",
			setup: func(f *fixture) {
				f.source.err = &proposal.MalformedError{ID: "42", Reason: "bad action payload"}
			},
			id:         "42",
			wantReason: verdict.ReasonProposalMalformed,
		},
		{
			name: "proposal unavailable",
			setup: func(f *fixture) {
				f.source.err = &proposal.UnavailableError{ID: "42", StatusCode: 503, Err: errors.New("service unavailable")}
			},
			id:         "42",
			wantReason: verdict.ReasonProposalUnavailable,
		},
		{
			name: "commit unresolvable",
			setup: func(f *fixture) {
				rec := f.source.records["42"]
				rec.CommitHash = ""
				rec.Summary = "no commit here, only a short ref abc1234"
			},
			id:           "42",
			wantReason:   verdict.ReasonCommitUnresolvable,
			wantExpected: wasmHash,
		},
		{
			name: "expected hash unavailable",
			setup: func(f *fixture) {
				f.source.records["42"].ExpectedArtifactHash = ""
			},
			id:         "42",
			wantReason: verdict.ReasonExpectedHashUnavailable,
		},
		{
			name: "expected hash of unsupported length",
			setup: func(f *fixture) {
				f.source.records["42"].ExpectedArtifactHash = "abcdef"
			},
			id:           "42",
			wantReason:   verdict.ReasonExpectedHashUnavailable,
			wantExpected: "abcdef",
		},
		{
			name: "plan inference malformed",
			setup: func(f *fixture) {
				f.planner.result = plan.Result{Raw: "Sure! Here is the plan:", Err: &plan.MalformedResponseError{Reason: "response is not a JSON object"}}
			},
			id:           "42",
			wantReason:   verdict.ReasonPlanInferenceMalformed,
			wantPlanner:  1,
			wantExpected: wasmHash,
		},
		{
			name: "plan inference unavailable",
			setup: func(f *fixture) {
				f.planner.result = plan.Result{Err: &plan.UnavailableError{Provider: "fake", Err: errors.New("429")}}
			},
			id:           "42",
			wantReason:   verdict.ReasonPlanInferenceUnavailable,
			wantPlanner:  1,
			wantExpected: wasmHash,
		},
		{
			name: "source unavailable",
			setup: func(f *fixture) {
				f.builder.err = &build.StageError{Reason: verdict.ReasonSourceUnavailable, Err: errors.New("couldn't find remote ref")}
			},
			id:           "42",
			wantReason:   verdict.ReasonSourceUnavailable,
			wantPlanner:  1,
			wantBuilder:  1,
			wantExpected: wasmHash,
		},
		{
			name: "build failed",
			setup: func(f *fixture) {
				f.builder.err = &build.StageError{Reason: verdict.ReasonBuildFailed, StepIndex: 0, ExitCode: 2}
			},
			id:           "42",
			wantReason:   verdict.ReasonBuildFailed,
			wantPlanner:  1,
			wantBuilder:  1,
			wantExpected: wasmHash,
		},
		{
			name: "artifact not found",
			setup: func(f *fixture) {
				f.builder.err = &build.StageError{Reason: verdict.ReasonArtifactNotFound, DeclaredPath: "/src/out/runtime.wasm", Candidates: []string{"target/x.wasm"}}
			},
			id:           "42",
			wantReason:   verdict.ReasonArtifactNotFound,
			wantPlanner:  1,
			wantBuilder:  1,
			wantExpected: wasmHash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			rep, err := f.verifier.Verify(context.Background(), tt.id, Options{})
			require.NoError(t, err)

			assert.Equal(t, verdict.Inconclusive, rep.Verdict.Outcome)
			assert.Equal(t, tt.wantReason, rep.Verdict.Reason)
			assert.NotEmpty(t, rep.Verdict.Detail)
			assert.Nil(t, rep.Verdict.ProducedHash)
			assert.Equal(t, tt.wantExpected, rep.Verdict.ExpectedHash)
			assert.Equal(t, tt.wantPlanner, f.planner.calls.Load(), "planner calls")
			assert.Equal(t, tt.wantBuilder, f.builder.calls.Load(), "builder calls")

			doc := f.runFile(t, tt.id, state.VerdictFile)
			assert.Contains(t, doc, "verdict: inconclusive")
			assert.Contains(t, doc, "reason: "+string(tt.wantReason))
			assert.Contains(t, doc, "producedHash: null")

			latest, err := f.index.Latest(context.Background(), tt.id)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, string(tt.wantReason), latest.Reason)
		})
	}
}

func TestVerifyMalformedPlanKeepsRawResponse(t *testing.T) {
	f := newFixture(t)
	raw := "```json\n{\"steps\":[\"make\"],\"wasmOutputPath\":\"a.wasm\"}\n```"
	f.planner.result = plan.Result{Raw: raw, Err: &plan.MalformedResponseError{Reason: "response is wrapped in code fencing"}}

	_, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	assert.Equal(t, raw, f.runFile(t, "42", state.InferenceFile))
	_, statErr := os.Stat(filepath.Join(f.verifier.Store.Dir, "runs", "42", state.PlanFile))
	assert.True(t, os.IsNotExist(statErr), "no plan record for a rejected response")
}

func TestVerifyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.builder.block = true
	f.builder.onStart = cancel

	rep, err := f.verifier.Verify(ctx, "42", Options{})
	require.NoError(t, err)

	assert.Equal(t, verdict.Inconclusive, rep.Verdict.Outcome)
	assert.Equal(t, verdict.ReasonCancelled, rep.Verdict.Reason)
	assert.Contains(t, f.runFile(t, "42", state.VerdictFile), "reason: cancelled")
}

func TestVerifyPipelineTimeout(t *testing.T) {
	f := newFixture(t)
	f.verifier.Timeout = 20 * time.Millisecond
	f.builder.block = true

	rep, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	assert.Equal(t, verdict.ReasonCancelled, rep.Verdict.Reason)
	assert.Contains(t, rep.Verdict.Detail, "pipeline timeout")
}

func TestVerifyInvalidID(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.Verify(context.Background(), "../etc", Options{})
	require.Error(t, err)
	assert.Equal(t, 0, f.source.calls)
}

// crashAfterPlan leaves records as if a previous run died during the build.
func crashAfterPlan(t *testing.T, f *fixture) {
	t.Helper()
	store := f.verifier.Store
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(&state.Run{Version: 1, RunID: "crashed", ProposalID: "42", Stage: state.StagePlan, StartedAt: now, UpdatedAt: now}))
	require.NoError(t, store.SaveProposal(structuredRecord("42")))
	require.NoError(t, store.SavePlan("42", acceptedPlan))
}

func TestVerifyResumeReusesRecords(t *testing.T) {
	f := newFixture(t)
	crashAfterPlan(t, f)

	rep, err := f.verifier.Verify(context.Background(), "42", Options{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, verdict.Match, rep.Verdict.Outcome)
	assert.True(t, rep.Resumed)
	assert.Equal(t, "crashed", rep.RunID)
	assert.Equal(t, 0, f.source.calls)
	assert.Equal(t, int32(0), f.planner.calls.Load())
	assert.Equal(t, int32(1), f.builder.calls.Load())
}

func TestVerifyWithoutResumeStartsFresh(t *testing.T) {
	f := newFixture(t)
	crashAfterPlan(t, f)

	rep, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	assert.False(t, rep.Resumed)
	assert.NotEqual(t, "crashed", rep.RunID)
	assert.Equal(t, 1, f.source.calls)
	assert.Equal(t, int32(1), f.planner.calls.Load())
}

func TestVerifyResumeOfFinishedRunStartsFresh(t *testing.T) {
	f := newFixture(t)
	first, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.NoError(t, err)

	second, err := f.verifier.Verify(context.Background(), "42", Options{Resume: true})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.False(t, second.Resumed)
	assert.Equal(t, 2, f.source.calls)
}

func TestVerifyStateWriteFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	f.verifier.Store = &state.Store{Dir: blocker}

	_, err := f.verifier.Verify(context.Background(), "42", Options{})
	require.Error(t, err)
	assert.Equal(t, 0, f.source.calls)
}
