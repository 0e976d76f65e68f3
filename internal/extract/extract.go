// Package extract recovers source-commit and artifact-hash references from
// proposal records.
//
// Lookup is two-tier: structured fields from the action payload are used
// verbatim, and the free-text heuristics below only fill fields the payload
// did not supply. When several candidate tokens appear in the text the
// first occurrence wins. That is a known limitation of the heuristic, kept
// deliberately: a proposal listing several plausible commits is resolved
// the same way every time.
package extract

import (
	"regexp"
	"strings"

	"github.com/bianoble/proposal-verify/internal/proposal"
)

// CommitReference is a 40 character lowercase hex source-control object id.
type CommitReference string

func (c CommitReference) String() string { return string(c) }

// Short returns the first 8 characters, for display.
func (c CommitReference) Short() string {
	if len(c) > 8 {
		return string(c[:8])
	}
	return string(c)
}

// Origin records which tier produced a reference.
type Origin string

const (
	OriginNone       Origin = ""
	OriginStructured Origin = "structured"
	OriginText       Origin = "text"
)

var (
	commitRe = regexp.MustCompile(`(?i)\b[0-9a-f]{40}\b`)
	hashRe   = regexp.MustCompile(`(?i)\b[0-9a-f]{64}\b`)

	// A hash label followed on the same line by a 64-hex token.
	labeledHashRe = regexp.MustCompile(`(?i)(?:hash|module)[^\n]{0,80}?\b([0-9a-f]{64})\b`)
)

// ExtractCommitReference returns the first 40-hex token in text, lowercased.
func ExtractCommitReference(text string) (CommitReference, bool) {
	m := commitRe.FindString(text)
	if m == "" {
		return "", false
	}
	return CommitReference(strings.ToLower(m)), true
}

// ExtractArtifactHash returns a 64-hex token from text, lowercased. A token
// near a "hash" or "module" label is preferred; otherwise the first bare
// 64-hex token is used.
func ExtractArtifactHash(text string) (string, bool) {
	if m := labeledHashRe.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1]), true
	}
	if m := hashRe.FindString(text); m != "" {
		return strings.ToLower(m), true
	}
	return "", false
}

// References are the commit and expected hash selected for one run.
type References struct {
	Commit       CommitReference
	CommitOrigin Origin
	ExpectedHash string
	HashOrigin   Origin
}

// HasCommit reports whether a commit was selected.
func (r References) HasCommit() bool { return r.Commit != "" }

// HasExpectedHash reports whether a claim to check against was found.
func (r References) HasExpectedHash() bool { return r.ExpectedHash != "" }

// Resolve selects exactly one commit and one expected hash for rec. The
// text extractor is consulted only for fields the structured payload left
// empty.
func Resolve(rec *proposal.Record) References {
	var refs References
	text := rec.Text()

	if rec.CommitHash != "" {
		refs.Commit = CommitReference(rec.CommitHash)
		refs.CommitOrigin = OriginStructured
	} else if c, ok := ExtractCommitReference(text); ok {
		refs.Commit = c
		refs.CommitOrigin = OriginText
	}

	if rec.ExpectedArtifactHash != "" {
		refs.ExpectedHash = rec.ExpectedArtifactHash
		refs.HashOrigin = OriginStructured
	} else if h, ok := ExtractArtifactHash(text); ok {
		refs.ExpectedHash = h
		refs.HashOrigin = OriginText
	}

	return refs
}
