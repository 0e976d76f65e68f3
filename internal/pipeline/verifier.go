// Package pipeline runs one verification end to end: fetch the proposal,
// select its references, infer a build plan, reproduce the build and judge
// the hash. Stages run strictly in order and the first failure ends the run
// with an inconclusive verdict.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bianoble/proposal-verify/internal/build"
	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/extract"
	"github.com/bianoble/proposal-verify/internal/index"
	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/proposal"
	"github.com/bianoble/proposal-verify/internal/report"
	"github.com/bianoble/proposal-verify/internal/state"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

// Planner produces a build plan for a proposal. *plan.Inferrer implements it.
type Planner interface {
	Infer(ctx context.Context, req plan.Request) plan.Result
}

// Builder reproduces an artifact. *build.Executor implements it.
type Builder interface {
	Execute(ctx context.Context, commit string, p *plan.BuildPlan, out io.Writer) (*build.Artifact, error)
}

// ImageResolver reports the digest behind the pinned build image.
type ImageResolver interface {
	ImageDigest(ctx context.Context, image string) (string, error)
}

// Options adjust a single Verify call.
type Options struct {
	// Resume reuses the proposal and plan records of an unfinished run for
	// the same proposal instead of starting over.
	Resume bool
}

// Verifier wires the stage collaborators together. Proposals, Planner,
// Builder and Store are required; the rest are optional.
type Verifier struct {
	Proposals proposal.Source
	Planner   Planner
	Builder   Builder
	Images    ImageResolver
	Store     *state.Store
	Cache     *cache.Cache
	Index     *index.Index

	// Trust carries the static trust parameters copied into every report.
	Trust   report.Trust
	Timeout time.Duration
	Logger  *zap.Logger

	Now      func() time.Time
	NewRunID func() string
}

// run is the mutable state of one Verify call.
type run struct {
	v      *Verifier
	ctx    context.Context
	parent context.Context
	log    *zap.Logger

	rec     *state.Run
	resumed bool
	report  *report.Report
	refs    extract.References
}

// Verify runs the pipeline for proposal id. The report is always returned
// once a run has started; a non-nil error means a record could not be
// persisted and the outcome on disk may be incomplete.
func (v *Verifier) Verify(ctx context.Context, id string, opts Options) (*report.Report, error) {
	if !state.ValidID(id) {
		return nil, fmt.Errorf("invalid proposal id %q", id)
	}

	runCtx := ctx
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	r := &run{v: v, ctx: runCtx, parent: ctx}
	if err := r.begin(id, opts); err != nil {
		return nil, err
	}
	r.log.Info("verification started", zap.Bool("resumed", r.resumed))

	return r.execute()
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *Verifier) newRunID() string {
	if v.NewRunID != nil {
		return v.NewRunID()
	}
	return uuid.NewString()
}

func (v *Verifier) logger() *zap.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return zap.NewNop()
}

// begin claims the run directory, either adopting an unfinished run or
// clearing whatever a previous run left behind.
func (r *run) begin(id string, opts Options) error {
	v := r.v
	now := v.now()

	if opts.Resume {
		prev, err := v.Store.LoadRun(id)
		switch {
		case err == nil && !prev.Finished():
			r.rec = prev
			r.resumed = true
		case err != nil && !errors.Is(err, state.ErrNoRun):
			v.logger().Warn("ignoring unreadable run record", zap.String("proposal", id), zap.Error(err))
		}
	}

	if r.rec == nil {
		if err := v.Store.Reset(id); err != nil {
			return fmt.Errorf("clearing previous run of proposal %s: %w", id, err)
		}
		r.rec = &state.Run{
			Version:    1,
			RunID:      v.newRunID(),
			ProposalID: id,
			Stage:      state.StageStarted,
			StartedAt:  now,
		}
	}
	r.rec.UpdatedAt = now
	if err := v.Store.SaveRun(r.rec); err != nil {
		return err
	}

	r.log = v.logger().With(zap.String("proposal", id), zap.String("run_id", r.rec.RunID))
	r.report = &report.Report{
		RunID:      r.rec.RunID,
		ProposalID: id,
		Trust:      v.Trust,
		Resumed:    r.resumed,
		StartedAt:  r.rec.StartedAt,
	}
	return nil
}

// advance durably records that stage completed before the next one starts.
func (r *run) advance(stage state.Stage) error {
	r.rec.Stage = stage
	r.rec.UpdatedAt = r.v.now()
	if err := r.v.Store.SaveRun(r.rec); err != nil {
		return err
	}
	r.log.Debug("stage recorded", zap.String("stage", string(stage)))
	return nil
}

// stageFailure ends the run inconclusive.
type stageFailure struct {
	reason verdict.Reason
	detail string
}

func (r *run) fail(reason verdict.Reason, err error) *stageFailure {
	if r.ctx.Err() != nil {
		reason = verdict.ReasonCancelled
		if r.parent.Err() == nil {
			err = fmt.Errorf("pipeline timeout of %s exceeded", r.v.Timeout)
		} else {
			err = r.parent.Err()
		}
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &stageFailure{reason: reason, detail: detail}
}

// checkpoint reports cancellation between stages.
func (r *run) checkpoint() *stageFailure {
	if r.ctx.Err() != nil {
		return r.fail(verdict.ReasonCancelled, r.ctx.Err())
	}
	return nil
}

func (r *run) execute() (*report.Report, error) {
	var art *build.Artifact
	failure, infraErr := r.stages(&art)
	if infraErr != nil {
		return r.report, infraErr
	}

	var result verdict.Verdict
	if failure != nil {
		result = verdict.NewInconclusive(failure.reason, failure.detail, r.refs.ExpectedHash)
	} else {
		result = verdict.Judge(r.refs.ExpectedHash, art.Bytes)
		r.storeArtifact(art, result)
	}
	return r.report, r.finish(result)
}

// stages runs every stage in order. A stage failure is a modeled outcome;
// the error return is reserved for persistence faults.
func (r *run) stages(art **build.Artifact) (*stageFailure, error) {
	rec, failure, err := r.proposalStage()
	if failure != nil || err != nil {
		return failure, err
	}
	r.report.Title = rec.Title

	if failure := r.referenceStage(rec); failure != nil {
		return failure, nil
	}
	if failure := r.checkpoint(); failure != nil {
		return failure, nil
	}

	p, failure, err := r.planStage(rec)
	if failure != nil || err != nil {
		return failure, err
	}
	r.report.Plan = p
	if failure := r.checkpoint(); failure != nil {
		return failure, nil
	}

	a, failure, err := r.buildStage(p)
	if failure != nil || err != nil {
		return failure, err
	}
	*art = a
	r.report.Artifact = &report.Artifact{Path: a.Path, Size: a.Size}
	return nil, nil
}

func (r *run) proposalStage() (*proposal.Record, *stageFailure, error) {
	v := r.v
	id := r.rec.ProposalID

	if r.resumed && r.rec.Stage.Reached(state.StageProposal) {
		rec, err := v.Store.LoadProposal(id)
		if err == nil {
			r.log.Debug("reusing recorded proposal")
			return rec, nil, nil
		}
		r.log.Warn("recorded proposal unusable, fetching again", zap.Error(err))
	}

	rec, err := v.Proposals.Get(r.ctx, id)
	if err != nil {
		r.log.Warn("proposal fetch failed", zap.Error(err))
		return nil, r.fail(proposalReason(err), err), nil
	}
	if rec.ID != id {
		return nil, r.fail(verdict.ReasonProposalMalformed, fmt.Errorf("data source returned proposal %s", rec.ID)), nil
	}

	if err := v.Store.SaveProposal(rec); err != nil {
		return nil, nil, err
	}
	if err := r.advance(state.StageProposal); err != nil {
		return nil, nil, err
	}
	return rec, nil, nil
}

func proposalReason(err error) verdict.Reason {
	var malformed *proposal.MalformedError
	switch {
	case errors.Is(err, proposal.ErrNotFound):
		return verdict.ReasonProposalNotFound
	case errors.As(err, &malformed):
		return verdict.ReasonProposalMalformed
	default:
		return verdict.ReasonProposalUnavailable
	}
}

func (r *run) referenceStage(rec *proposal.Record) *stageFailure {
	r.refs = extract.Resolve(rec)
	r.report.Commit = r.refs.Commit.String()
	r.report.CommitOrigin = string(r.refs.CommitOrigin)
	r.report.HashOrigin = string(r.refs.HashOrigin)

	if !r.refs.HasCommit() {
		return r.fail(verdict.ReasonCommitUnresolvable, errors.New("no 40-character commit hash in the proposal payload or text"))
	}
	if !r.refs.HasExpectedHash() {
		return r.fail(verdict.ReasonExpectedHashUnavailable, errors.New("no artifact hash in the proposal payload or text"))
	}
	if _, err := verdict.Algorithm(verdict.NormalizeHex(r.refs.ExpectedHash)); err != nil {
		return r.fail(verdict.ReasonExpectedHashUnavailable, err)
	}

	r.log.Info("references selected",
		zap.String("commit", r.refs.Commit.String()),
		zap.String("commit_origin", string(r.refs.CommitOrigin)),
		zap.String("hash_origin", string(r.refs.HashOrigin)))
	return nil
}

func (r *run) planStage(rec *proposal.Record) (*plan.BuildPlan, *stageFailure, error) {
	v := r.v
	id := r.rec.ProposalID
	commit := r.refs.Commit.String()

	if r.resumed && r.rec.Stage.Reached(state.StagePlan) {
		p, err := v.Store.LoadPlan(id)
		if err == nil && p.CommitHash == commit {
			r.log.Debug("reusing recorded build plan")
			return p, nil, nil
		}
		r.log.Warn("recorded build plan unusable, inferring again", zap.Error(err))
	}

	res := v.Planner.Infer(r.ctx, plan.Request{
		ProposalID: id,
		Title:      rec.Title,
		Summary:    rec.Summary,
		URL:        rec.URL,
		Commit:     commit,
	})
	if err := v.Store.SaveInference(id, res.Raw); err != nil {
		return nil, nil, err
	}
	if res.Err != nil {
		return nil, r.fail(planReason(res.Err), res.Err), nil
	}

	if err := v.Store.SavePlan(id, res.Plan); err != nil {
		return nil, nil, err
	}
	if err := r.advance(state.StagePlan); err != nil {
		return nil, nil, err
	}
	r.log.Info("build plan accepted", zap.Int("steps", len(res.Plan.Steps)), zap.String("output", res.Plan.OutputPath))
	return res.Plan, nil, nil
}

func planReason(err error) verdict.Reason {
	var malformed *plan.MalformedResponseError
	if errors.As(err, &malformed) {
		return verdict.ReasonPlanInferenceMalformed
	}
	return verdict.ReasonPlanInferenceUnavailable
}

func (r *run) buildStage(p *plan.BuildPlan) (*build.Artifact, *stageFailure, error) {
	v := r.v
	id := r.rec.ProposalID

	if v.Images != nil && r.report.Trust.ImageDigest == "" && r.report.Trust.Image != "" {
		digest, err := v.Images.ImageDigest(r.ctx, r.report.Trust.Image)
		if err != nil {
			r.log.Warn("could not resolve build image digest", zap.Error(err))
		}
		r.report.Trust.ImageDigest = digest
	}

	logFile, err := v.Store.BuildLog(id)
	if err != nil {
		return nil, nil, fmt.Errorf("opening build log: %w", err)
	}
	defer logFile.Close()

	start := time.Now()
	art, err := v.Builder.Execute(r.ctx, r.refs.Commit.String(), p, logFile)
	if err != nil {
		r.log.Warn("build failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, r.fail(buildReason(err), err), nil
	}
	if err := logFile.Sync(); err != nil {
		r.log.Warn("syncing build log", zap.Error(err))
	}
	if err := r.advance(state.StageBuild); err != nil {
		return nil, nil, err
	}
	r.log.Info("build finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("artifact", art.Path),
		zap.Int64("size", art.Size))
	return art, nil, nil
}

func buildReason(err error) verdict.Reason {
	var stageErr *build.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Reason
	}
	return verdict.ReasonBuildFailed
}

// storeArtifact keeps the produced bytes for later inspection. Failure to
// cache does not affect the verdict.
func (r *run) storeArtifact(art *build.Artifact, result verdict.Verdict) {
	if r.v.Cache == nil || result.Algorithm == "" {
		return
	}
	key, err := r.v.Cache.Put(result.Algorithm, art.Bytes, cache.Provenance{
		ProposalID: r.rec.ProposalID,
		RunID:      r.rec.RunID,
		Commit:     r.refs.Commit.String(),
		Image:      r.report.Trust.ImageRef(),
		OutputPath: art.Path,
		StoredAt:   r.v.now(),
	})
	if err != nil {
		r.log.Warn("caching artifact", zap.Error(err))
		return
	}
	r.report.Artifact.CacheKey = key
}

// finish persists the verdict, marks the run done and indexes it.
func (r *run) finish(result verdict.Verdict) error {
	v := r.v
	now := v.now()
	r.report.Verdict = result
	r.report.FinishedAt = now

	fields := []zap.Field{zap.String("verdict", string(result.Outcome))}
	if result.Reason != verdict.ReasonNone {
		fields = append(fields, zap.String("reason", string(result.Reason)), zap.String("detail", result.Detail))
	}
	r.log.Info("verification finished", fields...)

	if err := v.Store.SaveVerdict(r.rec.ProposalID, &state.VerdictRecord{
		Verdict:     result,
		Reasons:     result.Reasons(),
		RunID:       r.rec.RunID,
		Commit:      r.report.Commit,
		Image:       r.report.Trust.Image,
		ImageDigest: r.report.Trust.ImageDigest,
		RecordedAt:  now,
	}); err != nil {
		return err
	}

	r.rec.FinishedAt = &now
	if err := r.advance(state.StageDone); err != nil {
		return err
	}

	if v.Index == nil {
		return nil
	}
	// Index even when the caller has given up; the verdict is already on disk.
	return v.Index.Record(context.WithoutCancel(r.parent), index.Run{
		RunID:        r.rec.RunID,
		ProposalID:   r.rec.ProposalID,
		Outcome:      string(result.Outcome),
		Reason:       string(result.Reason),
		Detail:       result.Detail,
		Commit:       r.report.Commit,
		ExpectedHash: result.ExpectedHash,
		ProducedHash: result.ProducedHash,
		Image:        r.report.Trust.ImageRef(),
		StartedAt:    r.rec.StartedAt,
		FinishedAt:   now,
	})
}
