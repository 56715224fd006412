// Package workspace owns the per-invocation scratch directory holding the
// actual and expected snapshot trees.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valreg/valreg-go/internal/extract"
)

// Workspace is a scratch directory laid out as <root>/actual and <root>/expected.
type Workspace struct {
	root string
}

// Reset removes root and recreates it empty, so no files leak from an
// earlier invocation on the same host.
func Reset(root string) (*Workspace, error) {
	if root == "" || filepath.Clean(root) == "." || filepath.Clean(root) == "/" {
		return nil, fmt.Errorf("workspace: refusing to reset %q", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", root, err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return nil, fmt.Errorf("workspace: remove %s: %w", abs, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, extract.ActualPrefix), 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", abs, err)
	}
	return &Workspace{root: abs}, nil
}

// Root is the absolute workspace path.
func (w *Workspace) Root() string { return w.root }

// ActualDir holds the current run's snapshots.
func (w *Workspace) ActualDir() string { return filepath.Join(w.root, extract.ActualPrefix) }

// ExpectedDir holds the historical run's snapshots.
func (w *Workspace) ExpectedDir() string { return filepath.Join(w.root, extract.ExpectedPrefix) }

// CopyActual copies every *.json file below src into ActualDir, keeping
// paths relative to src. It returns the number of files copied.
func (w *Workspace) CopyActual(src string) (int, error) {
	n := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Never copy the workspace into itself.
			if abs, _ := filepath.Abs(path); abs == w.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(w.ActualDir(), rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("workspace: copy snapshots from %s: %w", src, err)
	}
	return n, nil
}

// Files lists every regular file in the workspace, relative to Root in slash
// form and sorted.
func (w *Workspace) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: list files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
