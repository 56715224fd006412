// Package vcs shells out to git for merge-base discovery and for maintaining
// the report branch.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 5 * time.Minute

// Error is a failed git invocation.
type Error struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vcs: git %s: exit %d: %v (stderr: %s)",
		strings.Join(e.Args, " "), e.ExitCode, e.Err, strings.TrimSpace(e.Stderr))
}

func (e *Error) Unwrap() error { return e.Err }

// Git runs git commands in one working directory.
type Git struct {
	binary  string
	dir     string
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

// New creates a Git runner for dir using the git binary on PATH.
func New(dir string, logger *slog.Logger) *Git {
	return NewWithBinary("git", dir, logger)
}

// NewWithBinary creates a Git runner invoking the given binary (for testing).
func NewWithBinary(binary, dir string, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{
		binary:  binary,
		dir:     dir,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// In returns a copy of g running in dir.
func (g *Git) In(dir string) *Git {
	c := *g
	c.dir = dir
	return &c
}

// WithEnv returns a copy of g that adds env ("KEY=value") to every command.
func (g *Git) WithEnv(env ...string) *Git {
	c := *g
	c.env = append(append([]string{}, g.env...), env...)
	return &c
}

// Dir is the working directory commands run in.
func (g *Git) Dir() string { return g.dir }

// Run executes git with args and returns trimmed stdout.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = g.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, g.env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("git", "args", args, "dir", g.dir)
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &Error{Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// MergeBase makes every remote branch visible, fetches, and returns the best
// common ancestor of base and head. It fails with *Error when the objects are
// missing, e.g. in a shallow clone.
func (g *Git) MergeBase(ctx context.Context, base, head string) (string, error) {
	g.logger.Info("resolving merge-base", "base", base, "head", head)

	if _, err := g.Run(ctx, "config", "remote.origin.fetch", "+refs/heads/*:refs/remotes/origin/*"); err != nil {
		g.logger.Warn("git config remote.origin.fetch failed", "error", err)
	}
	if _, err := g.Run(ctx, "fetch", "--all"); err != nil {
		g.logger.Warn("git fetch --all failed", "error", err)
	}

	out, err := g.Run(ctx, "merge-base", "-a", base, head)
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(out, "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", &Error{Args: []string{"merge-base", "-a", base, head}, ExitCode: 0, Err: errors.New("no common ancestor")}
	}
	return first, nil
}

// Clone clones url into dist.
func (g *Git) Clone(ctx context.Context, url, dist string) error {
	_, err := g.Run(ctx, "clone", "--no-tags", url, dist)
	return err
}

// ConfigureIdentity sets the committer identity of the repository.
func (g *Git) ConfigureIdentity(ctx context.Context, name, email string) error {
	if _, err := g.Run(ctx, "config", "user.name", name); err != nil {
		return err
	}
	_, err := g.Run(ctx, "config", "user.email", email)
	return err
}

// HasRemoteBranch reports whether origin has branch.
func (g *Git) HasRemoteBranch(ctx context.Context, branch string) (bool, error) {
	out, err := g.Run(ctx, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// FetchBranch updates the local branch from origin.
func (g *Git) FetchBranch(ctx context.Context, branch string) error {
	_, err := g.Run(ctx, "fetch", "-u", "origin", branch+":"+branch)
	return err
}

// Checkout switches to branch. An orphan checkout starts an empty history and
// clears the index and working tree.
func (g *Git) Checkout(ctx context.Context, branch string, orphan bool) error {
	if !orphan {
		_, err := g.Run(ctx, "checkout", branch)
		return err
	}
	if _, err := g.Run(ctx, "checkout", "--orphan", branch); err != nil {
		return err
	}
	_, err := g.Run(ctx, "rm", "-r", "-q", "-f", "--ignore-unmatch", ".")
	return err
}

// AddAll stages every change in the working tree.
func (g *Git) AddAll(ctx context.Context) error {
	_, err := g.Run(ctx, "add", "-A", ".")
	return err
}

// Commit records the staged changes.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.Run(ctx, "commit", "-m", message)
	return err
}

// Push pushes branch to origin.
func (g *Git) Push(ctx context.Context, branch string) error {
	_, err := g.Run(ctx, "push", "origin", branch)
	return err
}

// Rebase fetches origin/branch and rebases the current branch onto it.
func (g *Git) Rebase(ctx context.Context, branch string) error {
	if _, err := g.Run(ctx, "fetch", "origin", branch); err != nil {
		return err
	}
	_, err := g.Run(ctx, "rebase", "origin/"+branch)
	return err
}
