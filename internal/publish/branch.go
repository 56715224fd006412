// Package publish commits comparison snapshots to a dedicated report branch.
package publish

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/retry"
	"github.com/valreg/valreg-go/internal/vcs"
)

// Default committer identity.
const (
	DefaultCommitName  = "github-actions[bot]"
	DefaultCommitEmail = "41898282+github-actions[bot]@users.noreply.github.com"
)

// Request describes one report to publish.
type Request struct {
	ExpectedDir  string
	ActualDir    string
	RunID        int64
	ArtifactName string
}

// Publisher pushes report directories to Branch of the remote.
type Publisher struct {
	Branch      string
	CommitName  string
	CommitEmail string

	git       *vcs.Git
	remoteURL string
	scratch   string
	policy    retry.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Publisher. git supplies the binary and logger; the clone is
// made below scratch. token authenticates over HTTPS through the environment
// so it never shows up in command lines or errors.
func New(git *vcs.Git, remoteURL, token, branch, scratch string, policy retry.Policy, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if token != "" {
		header := "AUTHORIZATION: basic " + base64.StdEncoding.EncodeToString([]byte("x-access-token:"+token))
		git = git.WithEnv(
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.extraheader",
			"GIT_CONFIG_VALUE_0="+header,
		)
	}
	return &Publisher{
		Branch:      branch,
		CommitName:  DefaultCommitName,
		CommitEmail: DefaultCommitEmail,
		git:         git,
		remoteURL:   remoteURL,
		scratch:     scratch,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}
}

// TargetDir is the report directory name: <date>_<runId>_<artifactName>.
func TargetDir(date time.Time, runID int64, artifactName string) string {
	return fmt.Sprintf("%s_%d_%s", date.UTC().Format("2006-01-02"), runID, artifactName)
}

// Publish commits the expected and actual trees to
// <Branch>/<TargetDir>/{expected,actual}/ and pushes, rebasing onto the
// remote branch between push attempts. It returns the directory name.
func (p *Publisher) Publish(ctx context.Context, req Request) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "publish.Publish")
	defer span.End()

	target := TargetDir(p.now(), req.RunID, req.ArtifactName)
	clone := filepath.Join(p.scratch, "report-branch")
	if err := os.RemoveAll(clone); err != nil {
		return "", fmt.Errorf("publish: clean %s: %w", clone, err)
	}
	if err := os.MkdirAll(p.scratch, 0o755); err != nil {
		return "", fmt.Errorf("publish: create %s: %w", p.scratch, err)
	}

	if err := p.git.In(p.scratch).Clone(ctx, p.remoteURL, clone); err != nil {
		return "", fmt.Errorf("publish: clone: %w", err)
	}
	repo := p.git.In(clone)

	if err := repo.ConfigureIdentity(ctx, p.CommitName, p.CommitEmail); err != nil {
		return "", fmt.Errorf("publish: configure identity: %w", err)
	}

	exists, err := repo.HasRemoteBranch(ctx, p.Branch)
	if err != nil {
		return "", fmt.Errorf("publish: look up branch %s: %w", p.Branch, err)
	}
	if exists {
		if err := repo.FetchBranch(ctx, p.Branch); err != nil {
			return "", fmt.Errorf("publish: fetch %s: %w", p.Branch, err)
		}
	}
	if err := repo.Checkout(ctx, p.Branch, !exists); err != nil {
		return "", fmt.Errorf("publish: checkout %s: %w", p.Branch, err)
	}

	if err := copyTree(req.ExpectedDir, filepath.Join(clone, target, "expected")); err != nil {
		return "", fmt.Errorf("publish: copy expected: %w", err)
	}
	if err := copyTree(req.ActualDir, filepath.Join(clone, target, "actual")); err != nil {
		return "", fmt.Errorf("publish: copy actual: %w", err)
	}

	if err := repo.AddAll(ctx); err != nil {
		return "", fmt.Errorf("publish: add: %w", err)
	}
	if err := repo.Commit(ctx, "Add "+target); err != nil {
		return "", fmt.Errorf("publish: commit: %w", err)
	}

	err = retry.Do(ctx, p.policy, "push-report", func(ctx context.Context) error {
		pushErr := repo.Push(ctx, p.Branch)
		if pushErr == nil {
			return nil
		}
		p.logger.Warn("push rejected, rebasing onto remote", "branch", p.Branch, "error", pushErr)
		if err := repo.Rebase(ctx, p.Branch); err != nil {
			return retry.Permanent(err)
		}
		return pushErr
	})
	if err != nil {
		return "", fmt.Errorf("publish: push %s: %w", p.Branch, err)
	}

	p.logger.Info("pushed report", "branch", p.Branch, "dir", target)
	return target, nil
}

// copyTree copies regular files below src into dst. A missing src copies
// nothing.
func copyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)
	})
}
