package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bianoble/proposal-verify/internal/verdict"
)

// ANSI color codes for terminal styling.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
)

func outcomeColor(o verdict.Outcome) string {
	switch o {
	case verdict.Match:
		return ansiGreen
	case verdict.Mismatch:
		return ansiRed
	default:
		return ansiYellow
	}
}

func paint(s, color string, enabled bool) string {
	if !enabled {
		return s
	}
	return ansiBold + color + s + ansiReset
}

// Headline is the one-line summary, e.g. "proposal 42: INCONCLUSIVE (build_failed)".
func Headline(r *Report, color bool) string {
	head := strings.ToUpper(string(r.Verdict.Outcome))
	if r.Verdict.Reason != verdict.ReasonNone {
		head += " (" + string(r.Verdict.Reason) + ")"
	}
	return fmt.Sprintf("proposal %s: %s", r.ProposalID, paint(head, outcomeColor(r.Verdict.Outcome), color))
}

func withOrigin(value, origin string) string {
	if value == "" || origin == "" || origin == "none" {
		return value
	}
	return value + " (" + origin + ")"
}

func digestRef(algorithm, hex string) string {
	if hex == "" || algorithm == "" {
		return hex
	}
	return algorithm + ":" + hex
}

// RenderText writes the human-readable report.
func RenderText(w io.Writer, r *Report, color bool) error {
	var b strings.Builder
	b.WriteString(Headline(r, color))
	b.WriteString("\n")

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %-12s %s\n", label+":", value)
		}
	}

	v := r.Verdict
	field("title", r.Title)
	field("detail", v.Detail)
	field("commit", withOrigin(r.Commit, r.CommitOrigin))
	field("expected", withOrigin(digestRef(v.Algorithm, v.ExpectedHash), r.HashOrigin))
	if v.ProducedHash != nil {
		field("produced", digestRef(v.Algorithm, *v.ProducedHash))
	}
	if a := r.Artifact; a != nil {
		field("artifact", fmt.Sprintf("%s (%d bytes)", a.Path, a.Size))
	}
	field("image", r.Trust.ImageRef())
	field("repository", r.Trust.Repository)
	field("inference", r.Trust.Inference)
	run := r.RunID
	if r.Resumed && run != "" {
		run += " (resumed)"
	}
	field("run", run)

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderJSON writes the report as an indented JSON document.
func RenderJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
