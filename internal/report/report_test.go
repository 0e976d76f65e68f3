package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

const (
	fixtureCommit   = "0123456789abcdef0123456789abcdef01234567"
	fixtureExpected = "8f434346648f6b96df89dda901c5176b10a6d83961dd3c1ac88b59b2dc327aa4"
	fixtureOther    = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func fixtureTrust() Trust {
	return Trust{
		Repository:  "https://github.com/example/runtime.git",
		Image:       "registry.example/wasm-builder:1.4.2",
		ImageDigest: "sha256:4a5b6c",
		Runtime:     "docker",
		Network:     "none",
		Inference:   "openai/gpt-4o",
		Tool:        "proposal-verify 1.0.0",
		Host: &Host{
			OS:              "linux",
			Platform:        "debian",
			PlatformVersion: "12.5",
			KernelVersion:   "6.1.0",
			Arch:            "x86_64",
			CPUs:            8,
		},
	}
}

func fixturePlan() *plan.BuildPlan {
	return &plan.BuildPlan{
		CommitHash: fixtureCommit,
		Steps:      []string{"cargo build --release --target wasm32-unknown-unknown"},
		OutputPath: "/src/target/wasm32-unknown-unknown/release/runtime.wasm",
	}
}

func fixtureReport(outcome string) *Report {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &Report{
		RunID:        "3f1c2e9a-0000-4000-8000-000000000001",
		ProposalID:   "42",
		Title:        "Upgrade runtime to v1.4",
		Commit:       fixtureCommit,
		CommitOrigin: "structured",
		HashOrigin:   "structured",
		Plan:         fixturePlan(),
		Trust:        fixtureTrust(),
		StartedAt:    started,
		FinishedAt:   started.Add(14*time.Minute + 30*time.Second),
	}

	switch outcome {
	case "match":
		produced := fixtureExpected
		r.Verdict = verdict.Verdict{Outcome: verdict.Match, Algorithm: "sha256", ExpectedHash: fixtureExpected, ProducedHash: &produced}
		r.Artifact = &Artifact{Path: "target/wasm32-unknown-unknown/release/runtime.wasm", Size: 1048576, CacheKey: "sha256:" + fixtureExpected}
	case "mismatch":
		produced := fixtureOther
		r.Verdict = verdict.Verdict{Outcome: verdict.Mismatch, Algorithm: "sha256", ExpectedHash: fixtureExpected, ProducedHash: &produced}
		r.Artifact = &Artifact{Path: "target/wasm32-unknown-unknown/release/runtime.wasm", Size: 1048571, CacheKey: "sha256:" + fixtureOther}
		r.CommitOrigin = "text"
		r.Resumed = true
	case "build_failed":
		r.Verdict = verdict.NewInconclusive(verdict.ReasonBuildFailed, "build step 0 exited with code 101", fixtureExpected)
	case "not_found":
		r.ProposalID = "999"
		r.Title = ""
		r.Commit = ""
		r.CommitOrigin = ""
		r.HashOrigin = ""
		r.Plan = nil
		r.Verdict = verdict.NewInconclusive(verdict.ReasonProposalNotFound, "proposal 999 not found", "")
	}
	return r
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderTextGolden(t *testing.T) {
	for _, name := range []string{"match", "mismatch", "build_failed", "not_found"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, RenderText(&buf, fixtureReport(name), false))
			newGoldie(t).Assert(t, name+"_text", buf.Bytes())
		})
	}
}

func TestRenderJSONGolden(t *testing.T) {
	for _, name := range []string{"match", "build_failed"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, RenderJSON(&buf, fixtureReport(name)))
			newGoldie(t).Assert(t, name+"_json", buf.Bytes())
		})
	}
}

func TestRenderJSONProducedHashIsNullWhenInconclusive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderJSON(&buf, fixtureReport("build_failed")))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	result, ok := doc["result"].(map[string]any)
	require.True(t, ok, "result object missing: %s", buf.String())
	v, present := result["producedHash"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, "build_failed", result["reason"])
}

func TestHeadlineColor(t *testing.T) {
	r := fixtureReport("mismatch")
	assert.Equal(t, "proposal 42: MISMATCH", Headline(r, false))

	colored := Headline(r, true)
	assert.Contains(t, colored, ansiRed)
	assert.True(t, strings.HasSuffix(colored, ansiReset))

	assert.Contains(t, Headline(fixtureReport("match"), true), ansiGreen)
	assert.Contains(t, Headline(fixtureReport("not_found"), true), ansiYellow)
}

func TestImageRef(t *testing.T) {
	assert.Equal(t, "img:1@sha256:ab", Trust{Image: "img:1", ImageDigest: "sha256:ab"}.ImageRef())
	assert.Equal(t, "img:1", Trust{Image: "img:1"}.ImageRef())
	assert.Equal(t, "img@sha256:ab", Trust{Image: "img@sha256:ab", ImageDigest: "sha256:ab"}.ImageRef())
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf, FormatText, false)
	assert.False(t, sink.Color, "a buffer is not a terminal")

	require.NoError(t, sink.Publish(context.Background(), fixtureReport("match")))
	assert.True(t, strings.HasPrefix(buf.String(), "proposal 42: MATCH\n"))

	buf.Reset()
	jsonSink := NewWriterSink(&buf, FormatJSON, false)
	require.NoError(t, jsonSink.Publish(context.Background(), fixtureReport("match")))
	var r Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	assert.Equal(t, verdict.Match, r.Verdict.Outcome)

	bad := &WriterSink{W: &buf, Format: "xml"}
	assert.Error(t, bad.Publish(context.Background(), fixtureReport("match")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Publish(ctx, fixtureReport("match")), context.Canceled)
}

func TestNewWriterSinkRespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, NewWriterSink(os.Stdout, FormatText, false).Color)
}

func TestCollectHost(t *testing.T) {
	h := CollectHost(context.Background())
	require.NotNil(t, h)
	assert.NotEmpty(t, h.OS)
	assert.NotEmpty(t, h.Arch)
}
