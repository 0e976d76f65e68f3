package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContainerWorkdir is where the workspace is mounted inside the build container.
const ContainerWorkdir = "/src"

// RunSpec describes one plan step executed inside the pinned image.
type RunSpec struct {
	Image     string
	Workspace string // host directory mounted at ContainerWorkdir
	Command   string
	Network   string
	Output    io.Writer
}

// Runtime executes build steps in an isolated environment.
//
// Run reports the step's exit code. A non-nil error means the step could not
// be run at all, or ctx ended before it finished.
type Runtime interface {
	Run(ctx context.Context, rs RunSpec) (int, error)
	ImageDigest(ctx context.Context, image string) (string, error)
}

// DockerRuntime runs steps with the docker CLI. Every container is named so it
// can be force-removed when the caller gives up on it.
type DockerRuntime struct {
	Binary string // default "docker"
	User   string // uid:gid inside the container, default the current user
}

func (d *DockerRuntime) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

func (d *DockerRuntime) user() string {
	if d.User != "" {
		return d.User
	}
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}

func (d *DockerRuntime) runArgs(name string, rs RunSpec) []string {
	args := []string{"run", "--rm", "--name", name,
		"-v", rs.Workspace + ":" + ContainerWorkdir,
		"-w", ContainerWorkdir,
	}
	if u := d.user(); u != "" {
		args = append(args, "--user", u)
	}
	if rs.Network != "" {
		args = append(args, "--network", rs.Network)
	}
	return append(args, rs.Image, "sh", "-c", rs.Command)
}

func (d *DockerRuntime) Run(ctx context.Context, rs RunSpec) (exitCode int, err error) {
	name := "pv-" + uuid.NewString()
	cmd := exec.CommandContext(ctx, d.binary(), d.runArgs(name, rs)...)
	if rs.Output != nil {
		cmd.Stdout = rs.Output
		cmd.Stderr = rs.Output
	}

	finished := false
	defer func() {
		if !finished {
			d.remove(name)
		}
	}()

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	finished = true

	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	finished = false
	return -1, fmt.Errorf("starting container: %w", runErr)
}

// remove force-removes a container. It runs on its own deadline because the
// caller's context is usually already done.
func (d *DockerRuntime) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, d.binary(), "rm", "-f", name).Run()
}

func (d *DockerRuntime) ImageDigest(ctx context.Context, image string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary(), "image", "inspect", "--format", "{{index .RepoDigests 0}}", image)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("inspecting image %s: %w", image, err)
	}
	digest := strings.TrimSpace(string(output))
	if i := strings.LastIndex(digest, "@"); i >= 0 {
		digest = digest[i+1:]
	}
	return digest, nil
}
