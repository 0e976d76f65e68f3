// Package plan turns proposal text into a build plan by delegating to a
// generative model, and validates the model's answer before anything acts
// on it. The model is an untrusted collaborator: its answer is data to be
// checked, never instructions to be trusted.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// BuildPlan is an ordered list of shell commands and the declared output
// artifact path, for one already checked-out commit.
type BuildPlan struct {
	CommitHash string   `yaml:"commitHash" json:"commitHash"`
	Steps      []string `yaml:"steps" json:"steps"`
	OutputPath string   `yaml:"outputPath" json:"outputPath"`
}

// MalformedResponseError is returned for any inference response that does
// not conform exactly to the required shape. It is never repaired.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed build plan response: %s: %v", e.Reason, e.Err)
	}
	return "malformed build plan response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// response is the strict wire shape: {"steps": [...], "wasmOutputPath": "..."}.
// Pointers distinguish a missing key from an empty value.
type response struct {
	Steps          *[]string `json:"steps"`
	WasmOutputPath *string   `json:"wasmOutputPath"`
}

// ParsePlan validates a raw inference response for commit. The response
// must be exactly one JSON object with a non-empty "steps" array of
// non-empty strings and a non-empty "wasmOutputPath", with no surrounding
// prose or code fencing and no other keys.
func ParsePlan(raw string, commit string) (*BuildPlan, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, &MalformedResponseError{Reason: "empty response"}
	}
	if strings.HasPrefix(body, "```") {
		return nil, &MalformedResponseError{Reason: "response is wrapped in code fencing"}
	}
	if !strings.HasPrefix(body, "{") {
		return nil, &MalformedResponseError{Reason: "response is not a JSON object"}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()

	var resp response
	if err := dec.Decode(&resp); err != nil {
		return nil, &MalformedResponseError{Reason: "response does not match {steps, wasmOutputPath}", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &MalformedResponseError{Reason: "trailing content after JSON object"}
	}

	if resp.Steps == nil {
		return nil, &MalformedResponseError{Reason: `missing "steps"`}
	}
	if len(*resp.Steps) == 0 {
		return nil, &MalformedResponseError{Reason: `"steps" is empty`}
	}
	steps := make([]string, len(*resp.Steps))
	for i, step := range *resp.Steps {
		step = strings.TrimSpace(step)
		if step == "" {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("step %d is empty", i)}
		}
		vcs, err := invokesVCS(step)
		if err != nil {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("step %d is not a valid shell command", i), Err: err}
		}
		if vcs {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("step %d invokes version control: %q", i, step)}
		}
		steps[i] = step
	}

	if resp.WasmOutputPath == nil || strings.TrimSpace(*resp.WasmOutputPath) == "" {
		return nil, &MalformedResponseError{Reason: `missing "wasmOutputPath"`}
	}

	return &BuildPlan{
		CommitHash: commit,
		Steps:      steps,
		OutputPath: strings.TrimSpace(*resp.WasmOutputPath),
	}, nil
}
