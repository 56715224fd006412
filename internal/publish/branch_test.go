package publish

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/retry"
	"github.com/valreg/valreg-go/internal/vcs"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialInterval = time.Millisecond
	p.MaxInterval = 2 * time.Millisecond
	p.Jitter = 0
	p.Logger = observability.Discard()
	return p
}

func snapshots(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	exp := filepath.Join(dir, "expected")
	act := filepath.Join(dir, "actual")
	for _, f := range []string{filepath.Join(exp, "a.json"), filepath.Join(act, "a.json"), filepath.Join(act, "web", "b.json")} {
		require.NoError(t, os.MkdirAll(filepath.Dir(f), 0o755))
		require.NoError(t, os.WriteFile(f, []byte(`{"x": 1}`), 0o644))
	}
	return exp, act
}

func TestTargetDir(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 3, 9, 23, 0, 0, 0, time.FixedZone("X", -3*3600))
	assert.Equal(t, "2024-03-10_42_perf", TargetDir(date, 42, "perf"))
}

const flakyPushGit = `#!/bin/sh
echo "$@" >> "$FAKE_GIT_LOG"
case "$1" in
  clone) mkdir -p "$4" ;;
  push)
    if [ ! -f "$FAKE_GIT_LOG.pushed" ]; then
      touch "$FAKE_GIT_LOG.pushed"
      echo "rejected: fetch first" >&2
      exit 1
    fi
    ;;
esac
exit 0
`

func TestPublish_RebasesAndRetriesRejectedPush(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("fake git needs /bin/sh")
	}

	bin := filepath.Join(t.TempDir(), "git")
	require.NoError(t, os.WriteFile(bin, []byte(flakyPushGit), 0o755))
	log := filepath.Join(t.TempDir(), "calls.log")
	git := vcs.NewWithBinary(bin, "", observability.Discard()).WithEnv("FAKE_GIT_LOG=" + log)

	exp, act := snapshots(t)
	p := New(git, "https://github.com/acme/widgets.git", "secret-token", "reports", t.TempDir(), fastPolicy(), observability.Discard())
	p.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }

	dir, err := p.Publish(context.Background(), Request{ExpectedDir: exp, ActualDir: act, RunID: 7, ArtifactName: "perf"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02_7_perf", dir)

	data, err := os.ReadFile(log)
	require.NoError(t, err)
	calls := strings.Split(strings.TrimSpace(string(data)), "\n")

	assert.Equal(t, "checkout --orphan reports", calls[4], "missing branch starts as an orphan")
	assert.Equal(t, []string{
		"push origin reports",
		"fetch origin reports",
		"rebase origin/reports",
		"push origin reports",
	}, calls[len(calls)-4:])
	assert.NotContains(t, string(data), "secret-token")
}

func TestPublish_RealRemote(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	ctx := context.Background()
	home := t.TempDir()
	remote := filepath.Join(t.TempDir(), "remote.git")
	git := vcs.New("", observability.Discard()).WithEnv("HOME="+home, "GIT_CONFIG_NOSYSTEM=1")
	_, err := git.In(filepath.Dir(remote)).Run(ctx, "init", "-q", "--bare", remote)
	require.NoError(t, err)

	exp, act := snapshots(t)
	p := New(git, remote, "", "reports", t.TempDir(), fastPolicy(), observability.Discard())

	first, err := p.Publish(ctx, Request{ExpectedDir: exp, ActualDir: act, RunID: 1, ArtifactName: "perf"})
	require.NoError(t, err)
	second, err := p.Publish(ctx, Request{ExpectedDir: exp, ActualDir: act, RunID: 2, ArtifactName: "perf"})
	require.NoError(t, err)

	tree, err := git.In(remote).Run(ctx, "ls-tree", "-r", "--name-only", "reports")
	require.NoError(t, err)
	files := strings.Split(tree, "\n")
	assert.Contains(t, files, first+"/expected/a.json")
	assert.Contains(t, files, first+"/actual/web/b.json")
	assert.Contains(t, files, second+"/actual/a.json")
}
