// Package report describes the outcome of one verification run and renders
// it for people and machines.
package report

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

// Report is everything a reader needs to judge a verdict: the outcome, the
// inputs it was derived from, and the trust parameters of the run.
type Report struct {
	RunID        string          `json:"runId"`
	ProposalID   string          `json:"proposalId"`
	Title        string          `json:"title,omitempty"`
	Verdict      verdict.Verdict `json:"result"`
	Commit       string          `json:"commit,omitempty"`
	CommitOrigin string          `json:"commitOrigin,omitempty"`
	HashOrigin   string          `json:"hashOrigin,omitempty"`
	Artifact     *Artifact       `json:"artifact,omitempty"`
	Plan         *plan.BuildPlan `json:"plan,omitempty"`
	Trust        Trust           `json:"trust"`
	Resumed      bool            `json:"resumed,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}

// Artifact describes the produced file.
type Artifact struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	CacheKey string `json:"cacheKey,omitempty"`
}

// Trust records what a verdict depends on besides the proposal itself.
type Trust struct {
	Repository  string `json:"repository"`
	Image       string `json:"image"`
	ImageDigest string `json:"imageDigest,omitempty"`
	Runtime     string `json:"runtime"`
	Network     string `json:"network,omitempty"`
	Inference   string `json:"inference,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Host        *Host  `json:"host,omitempty"`
}

// ImageRef is the image tag with its digest when known.
func (t Trust) ImageRef() string {
	if t.ImageDigest == "" || strings.Contains(t.Image, "@") {
		return t.Image
	}
	return t.Image + "@" + t.ImageDigest
}

// Host describes the machine the build ran on.
type Host struct {
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	KernelVersion   string `json:"kernelVersion,omitempty"`
	Arch            string `json:"arch"`
	CPUs            int    `json:"cpus,omitempty"`
}

// CollectHost gathers host facts. Anything that cannot be read is left
// empty; OS and Arch always fall back to the Go runtime's values.
func CollectHost(ctx context.Context) *Host {
	h := &Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if info, err := host.InfoWithContext(ctx); err == nil && info != nil {
		if info.OS != "" {
			h.OS = info.OS
		}
		h.Platform = info.Platform
		h.PlatformVersion = info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		if info.KernelArch != "" {
			h.Arch = info.KernelArch
		}
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.CPUs = n
	}
	return h
}
