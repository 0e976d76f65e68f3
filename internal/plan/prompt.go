package plan

import (
	"bytes"
	"fmt"
	"text/template"
	"unicode/utf8"
)

// Prompt is the rendered instruction pair sent to a Provider.
type Prompt struct {
	System string
	User   string
}

// Request carries the proposal fields the model may see.
type Request struct {
	ProposalID string
	Title      string
	Summary    string
	URL        string
	Commit     string
}

const systemPrompt = `You derive reproducible build instructions for a governance proposal.
The source repository is already checked out at the exact commit named in the request.
Respond with exactly one JSON object and nothing else: no markdown, no code fences, no prose.
The object has exactly two keys:
  "steps": an ordered array of shell command strings run from the repository root,
  "wasmOutputPath": the path of the produced WASM artifact relative to the repository root.
Never include version-control commands (git, hg, svn): checkout has already happened.
If the proposal does not describe how to build, return the repository's documented reproducible build command.`

var userTemplate = template.Must(template.New("user").Option("missingkey=error").Parse(
	`Proposal {{.ProposalID}}
Commit already checked out: {{.Commit}}

Title:
{{.Title}}

URL:
{{.URL}}

Summary:
{{.Summary}}
`))

// maxSummaryBytes bounds the proposal summary forwarded to the model.
const maxSummaryBytes = 32 << 10

// RenderPrompt fills the fixed instruction template for req.
func RenderPrompt(req Request) (Prompt, error) {
	if req.Commit == "" {
		return Prompt{}, fmt.Errorf("rendering prompt: commit is required")
	}
	req.Summary = truncateUTF8(req.Summary, maxSummaryBytes)

	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, req); err != nil {
		return Prompt{}, fmt.Errorf("executing prompt template: %w", err)
	}
	return Prompt{System: systemPrompt, User: buf.String()}, nil
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "\n[truncated]"
}
