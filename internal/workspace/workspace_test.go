package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestReset_RemovesStaleFiles(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), ".valreg")
	write(t, filepath.Join(root, "expected", "stale.json"), "{}")

	ws, err := Reset(root)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "expected", "stale.json"))
	assert.DirExists(t, ws.ActualDir())
	assert.True(t, filepath.IsAbs(ws.Root()))
}

func TestReset_RefusesDangerousRoots(t *testing.T) {
	t.Parallel()

	for _, root := range []string{"", ".", "/", "./"} {
		_, err := Reset(root)
		assert.Error(t, err, root)
	}
}

func TestCopyActualAndFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "metrics")
	write(t, filepath.Join(src, "a.json"), `{"x": 1}`)
	write(t, filepath.Join(src, "web", "b.JSON"), `{"y": 2}`)
	write(t, filepath.Join(src, "notes.txt"), "skip")

	ws, err := Reset(filepath.Join(dir, "ws"))
	require.NoError(t, err)

	n, err := ws.CopyActual(src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	write(t, filepath.Join(ws.ExpectedDir(), "a.json"), `{"x": 0}`)

	files, err := ws.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"actual/a.json", "actual/web/b.JSON", "expected/a.json"}, files)
}

func TestCopyActual_SkipsNestedWorkspace(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	write(t, filepath.Join(src, "a.json"), `{"x": 1}`)

	ws, err := Reset(filepath.Join(src, ".valreg"))
	require.NoError(t, err)

	n, err := ws.CopyActual(src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	files, err := ws.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"actual/a.json"}, files)
}

func TestCopyActual_MissingSource(t *testing.T) {
	t.Parallel()

	ws, err := Reset(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	_, err = ws.CopyActual(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
