package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valreg/valreg-go/internal/observability"
)

const fakeGit = `#!/bin/sh
echo "$@" >> "$FAKE_GIT_LOG"
case "$1" in
  merge-base)
    if [ -n "$FAKE_GIT_FAIL" ]; then
      echo "fatal: Not a valid commit name $3" >&2
      exit 128
    fi
    printf 'aaaaaaa111\nbbbbbbb222\n'
    ;;
  ls-remote)
    if [ "$4" = "reports" ]; then
      printf '0123abc\trefs/heads/reports\n'
    fi
    ;;
esac
exit 0
`

func newFakeGit(t *testing.T, env ...string) (*Git, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git needs /bin/sh")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(bin, []byte(fakeGit), 0o755))
	log := filepath.Join(dir, "calls.log")

	g := NewWithBinary(bin, dir, observability.Discard()).WithEnv(append([]string{"FAKE_GIT_LOG=" + log}, env...)...)
	return g, log
}

func calls(t *testing.T, log string) []string {
	t.Helper()
	data, err := os.ReadFile(log)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestMergeBase_FetchesThenTakesFirstLine(t *testing.T) {
	t.Parallel()

	g, log := newFakeGit(t)
	hash, err := g.MergeBase(context.Background(), "base1", "head1")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaa111", hash)

	assert.Equal(t, []string{
		"config remote.origin.fetch +refs/heads/*:refs/remotes/origin/*",
		"fetch --all",
		"merge-base -a base1 head1",
	}, calls(t, log))
}

func TestMergeBase_FailureIsVcsError(t *testing.T) {
	t.Parallel()

	g, _ := newFakeGit(t, "FAKE_GIT_FAIL=1")
	_, err := g.MergeBase(context.Background(), "base1", "head1")
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 128, verr.ExitCode)
	assert.Contains(t, verr.Stderr, "Not a valid commit name")
	assert.Equal(t, []string{"merge-base", "-a", "base1", "head1"}, verr.Args)
}

func TestReportBranchCommands(t *testing.T) {
	t.Parallel()

	g, log := newFakeGit(t)
	ctx := context.Background()

	ok, err := g.HasRemoteBranch(ctx, "reports")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.HasRemoteBranch(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Checkout(ctx, "reports", true))
	require.NoError(t, g.AddAll(ctx))
	require.NoError(t, g.Commit(ctx, "add report"))
	require.NoError(t, g.Rebase(ctx, "reports"))
	require.NoError(t, g.Push(ctx, "reports"))

	assert.Equal(t, []string{
		"ls-remote --heads origin reports",
		"ls-remote --heads origin other",
		"checkout --orphan reports",
		"rm -r -q -f --ignore-unmatch .",
		"add -A .",
		"commit -m add report",
		"fetch origin reports",
		"rebase origin/reports",
		"push origin reports",
	}, calls(t, log))
}

func TestIn_ChangesDirOnly(t *testing.T) {
	t.Parallel()

	g := New("/a", nil)
	h := g.In("/b")
	assert.Equal(t, "/a", g.Dir())
	assert.Equal(t, "/b", h.Dir())
}

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestMergeBase_RealRepository(t *testing.T) {
	t.Parallel()
	gitOrSkip(t)

	ctx := context.Background()
	dir := t.TempDir()
	g := New(dir, observability.Discard()).WithEnv(
		"GIT_CONFIG_NOSYSTEM=1",
		"HOME="+dir,
		"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
		"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com",
	)

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	_, err := g.Run(ctx, "init", "-q", "-b", "main")
	require.NoError(t, err)
	write("a.txt", "1")
	require.NoError(t, g.AddAll(ctx))
	require.NoError(t, g.Commit(ctx, "root"))
	fork, err := g.Run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	_, err = g.Run(ctx, "checkout", "-q", "-b", "feature")
	require.NoError(t, err)
	write("b.txt", "2")
	require.NoError(t, g.AddAll(ctx))
	require.NoError(t, g.Commit(ctx, "feature"))
	head, err := g.Run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	require.NoError(t, g.Checkout(ctx, "main", false))
	write("c.txt", "3")
	require.NoError(t, g.AddAll(ctx))
	require.NoError(t, g.Commit(ctx, "main moves on"))
	base, err := g.Run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	got, err := g.MergeBase(ctx, base, head)
	require.NoError(t, err)
	assert.Equal(t, fork, got)

	_, err = g.MergeBase(ctx, base, strings.Repeat("f", 40))
	var verr *Error
	assert.ErrorAs(t, err, &verr)
}
