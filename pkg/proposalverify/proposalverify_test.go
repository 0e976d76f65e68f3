package proposalverify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/bianoble/proposal-verify/internal/state"
)

type stubProvider struct {
	calls int
}

func (p *stubProvider) Name() string { return "stub/model" }

func (p *stubProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	p.calls++
	return "", errors.New("stub provider should not be reached")
}

// writeConfig writes a minimal valid config using a file proposal source
// and returns its path.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "proposal-verify.yaml")
	content := `version: 1
proposals:
  source: file
  dir: ` + filepath.Join(dir, "proposals") + `
repository:
  url: https://example.com/chain.git
build:
  image: builder:1
inference:
  provider: anthropic
  model: test-model
state:
  dir: ` + filepath.Join(dir, "state") + `
  cache_dir: ` + filepath.Join(dir, "cache") + `
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "proposals"), 0755); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func newTestClient(t *testing.T, dir string, p Provider) *Client {
	t.Helper()
	client, err := New(context.Background(), Options{
		ConfigPath: writeConfig(t, dir),
		NoInherit:  true,
		Logger:     zap.NewNop(),
		Provider:   p,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New(context.Background(), Options{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
		NoInherit:  true,
	})
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestVerifyUnknownProposal(t *testing.T) {
	dir := t.TempDir()
	p := &stubProvider{}
	client := newTestClient(t, dir, p)

	rep, err := client.Verify(context.Background(), "404", VerifyOptions{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Verdict.Outcome != Inconclusive || rep.Verdict.Reason != ReasonProposalNotFound {
		t.Errorf("verdict = %+v, want inconclusive proposal_not_found", rep.Verdict)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times", p.calls)
	}
	if rep.Trust.Tool != "proposal-verify test" {
		t.Errorf("trust tool = %q", rep.Trust.Tool)
	}
}

func TestVerifyWithoutExpectedHashStopsBeforeInference(t *testing.T) {
	dir := t.TempDir()
	p := &stubProvider{}
	client := newTestClient(t, dir, p)

	doc := "id: \"7\"\ntitle: Upgrade registry canister\ncommitHash: " + strings.Repeat("a1", 20) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "proposals", "7.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	rep, err := client.Verify(context.Background(), "7", VerifyOptions{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Verdict.Reason != ReasonExpectedHashUnavailable {
		t.Errorf("reason = %q, want %q", rep.Verdict.Reason, ReasonExpectedHashUnavailable)
	}
	if p.calls != 0 {
		t.Error("inference must not run without an expected hash")
	}

	rec, err := client.Status("7")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Outcome != Inconclusive || rec.ProducedHash != nil {
		t.Errorf("persisted verdict = %+v", rec)
	}

	latest, err := client.Latest(context.Background(), "7")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.Reason != string(ReasonExpectedHashUnavailable) {
		t.Errorf("latest run = %+v", latest)
	}
}

func TestStatusNeverRun(t *testing.T) {
	client := newTestClient(t, t.TempDir(), &stubProvider{})
	if _, err := client.Status("9"); !errors.Is(err, state.ErrNoRun) {
		t.Errorf("Status err = %v, want ErrNoRun", err)
	}
}

func TestScanKeepsOrder(t *testing.T) {
	client := newTestClient(t, t.TempDir(), &stubProvider{})

	results := client.Scan(context.Background(), []string{"3", "1", "3", "2"}, VerifyOptions{})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"3", "1", "2"} {
		if results[i].ProposalID != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].ProposalID, want)
		}
		if results[i].Report == nil || results[i].Report.Verdict.Reason != ReasonProposalNotFound {
			t.Errorf("results[%d] report = %+v", i, results[i].Report)
		}
	}

	runs, err := client.History(context.Background(), HistoryFilter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("history has %d runs, want 3", len(runs))
	}
}

func TestInferenceNotRecordedBeforePlanStage(t *testing.T) {
	dir := t.TempDir()
	client := newTestClient(t, dir, &stubProvider{})

	if _, err := client.Verify(context.Background(), "404", VerifyOptions{}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := client.Inference("404"); !errors.Is(err, state.ErrNoRun) {
		t.Errorf("Inference err = %v, want ErrNoRun", err)
	}
}
