// Package verdict classifies a verification run. A Verdict is built once per
// run and never modified afterwards.
package verdict

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Outcome is the top-level classification.
type Outcome string

const (
	Match        Outcome = "match"
	Mismatch     Outcome = "mismatch"
	Inconclusive Outcome = "inconclusive"
)

// Reason enumerates why a run is inconclusive. Reporting branches on these
// values, so a new failure mode gets a new constant rather than free text.
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonProposalNotFound         Reason = "proposal_not_found"
	ReasonProposalUnavailable      Reason = "proposal_unavailable"
	ReasonProposalMalformed        Reason = "proposal_malformed"
	ReasonCommitUnresolvable       Reason = "commit_unresolvable"
	ReasonExpectedHashUnavailable  Reason = "expected_hash_unavailable"
	ReasonPlanInferenceUnavailable Reason = "plan_inference_unavailable"
	ReasonPlanInferenceMalformed   Reason = "plan_inference_malformed"
	ReasonSourceUnavailable        Reason = "source_unavailable"
	ReasonBuildFailed              Reason = "build_failed"
	ReasonArtifactNotFound         Reason = "artifact_not_found"
	ReasonCancelled                Reason = "cancelled"
)

// Reasons lists every inconclusive reason in pipeline order.
var Reasons = []Reason{
	ReasonProposalNotFound,
	ReasonProposalUnavailable,
	ReasonProposalMalformed,
	ReasonCommitUnresolvable,
	ReasonExpectedHashUnavailable,
	ReasonPlanInferenceUnavailable,
	ReasonPlanInferenceMalformed,
	ReasonSourceUnavailable,
	ReasonBuildFailed,
	ReasonArtifactNotFound,
	ReasonCancelled,
}

// Verdict is the final classification of one run.
type Verdict struct {
	Outcome      Outcome `yaml:"verdict" json:"verdict"`
	Reason       Reason  `yaml:"reason,omitempty" json:"reason,omitempty"`
	Detail       string  `yaml:"detail,omitempty" json:"detail,omitempty"`
	Algorithm    string  `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	ExpectedHash string  `yaml:"expectedHash" json:"expectedHash"`
	ProducedHash *string `yaml:"producedHash" json:"producedHash"`
}

// Reasons returns the reason list persisted with the verdict document.
func (v Verdict) Reasons() []string {
	var out []string
	if v.Reason != ReasonNone {
		out = append(out, string(v.Reason))
	}
	if v.Detail != "" {
		out = append(out, v.Detail)
	}
	return out
}

// NewInconclusive builds an inconclusive verdict. expected may be empty when
// the run failed before the claim was known.
func NewInconclusive(reason Reason, detail, expected string) Verdict {
	return Verdict{
		Outcome:      Inconclusive,
		Reason:       reason,
		Detail:       detail,
		ExpectedHash: NormalizeHex(expected),
	}
}

// NormalizeHex lowercases a hex digest and strips separators and a 0x prefix.
func NormalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '_', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

// Algorithm returns the digest algorithm implied by a normalized hex digest.
func Algorithm(expected string) (string, error) {
	for _, c := range expected {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", fmt.Errorf("expected hash %q is not hex", expected)
		}
	}
	switch len(expected) {
	case 64:
		return "sha256", nil
	case 96:
		return "sha384", nil
	case 128:
		return "sha512", nil
	default:
		return "", fmt.Errorf("expected hash has %d hex characters, no supported digest has that length", len(expected))
	}
}

func newHash(algorithm string) hash.Hash {
	switch algorithm {
	case "sha384":
		return sha512.New384()
	case "sha512":
		return sha512.New()
	default:
		return sha256.New()
	}
}

// Digest computes the hex digest of data with the named algorithm.
func Digest(algorithm string, data []byte) string {
	h := newHash(algorithm)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Judge hashes artifact with the algorithm implied by expected and compares.
// An expected hash of unsupported shape yields an inconclusive verdict.
func Judge(expected string, artifact []byte) Verdict {
	want := NormalizeHex(expected)
	algorithm, err := Algorithm(want)
	if err != nil {
		return NewInconclusive(ReasonExpectedHashUnavailable, err.Error(), "")
	}

	got := Digest(algorithm, artifact)
	v := Verdict{
		Algorithm:    algorithm,
		ExpectedHash: want,
		ProducedHash: &got,
	}
	if got == want {
		v.Outcome = Match
	} else {
		v.Outcome = Mismatch
	}
	return v
}
