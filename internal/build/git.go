package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Fetcher materializes one exact commit of a repository into a directory
// and reports which commit a checkout currently sits on.
type Fetcher interface {
	Fetch(ctx context.Context, repo, commit, dest string) error
	Head(ctx context.Context, dir string) (string, error)
}

// GitFetcher fetches with the git CLI. It asks for just the named commit
// (depth 1) and falls back to fetching all branches when the server refuses
// a want by object id.
type GitFetcher struct {
	Binary string // default "git"
}

func (g *GitFetcher) Fetch(ctx context.Context, repo, commit, dest string) error {
	if repo == "" {
		return fmt.Errorf("repository url is required")
	}
	if commit == "" {
		return fmt.Errorf("commit is required")
	}

	if err := g.git(ctx, "", "init", "-q", dest); err != nil {
		return err
	}

	if err := g.git(ctx, dest, "fetch", "-q", "--depth", "1", "--no-tags", repo, commit); err == nil {
		if err := g.git(ctx, dest, "checkout", "-q", "--detach", "FETCH_HEAD"); err != nil {
			return err
		}
	} else {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err2 := g.git(ctx, dest, "fetch", "-q", "--no-tags", repo, "+refs/heads/*:refs/remotes/origin/*"); err2 != nil {
			return fmt.Errorf("%v; full fetch: %w", err, err2)
		}
		if err := g.git(ctx, dest, "checkout", "-q", "--detach", commit); err != nil {
			return err
		}
	}

	head, err := g.revParse(ctx, dest, "HEAD")
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	if head != commit {
		return fmt.Errorf("checked out %s, expected %s", head, commit)
	}
	return nil
}

// Head resolves HEAD in dir.
func (g *GitFetcher) Head(ctx context.Context, dir string) (string, error) {
	return g.revParse(ctx, dir, "HEAD")
}

func (g *GitFetcher) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "git"
}

func (g *GitFetcher) git(ctx context.Context, dir string, args ...string) error {
	sub := args[0]
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s failed: %s: %w", sub, strings.TrimSpace(string(output)), err)
	}
	return nil
}

func (g *GitFetcher) revParse(ctx context.Context, repoDir, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary(), "-C", repoDir, "rev-parse", rev)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
