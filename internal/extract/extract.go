// Package extract turns a downloaded snapshot artifact into the expected
// snapshot tree of the working directory. Selection is pure; Materialize does
// the disk I/O.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/valreg/valreg-go/internal/github"
)

// Subtree names inside the artifact and the working directory.
const (
	ActualPrefix   = "actual"
	ExpectedPrefix = "expected"
)

// maxEntryBytes caps a single decompressed entry.
const maxEntryBytes = 64 << 20

// Entry is one file selected from an archive, already re-homed.
type Entry struct {
	Path string // slash-separated, relative to the working directory
	Data []byte
}

// Downloader fetches an artifact archive.
type Downloader interface {
	DownloadArtifact(ctx context.Context, artifactID int64) ([]byte, error)
}

// Select returns the non-directory entries of archive under from/, with the
// from prefix replaced by to. Entries that would escape the root are rejected.
func Select(archive []byte, from, to string) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("extract: open archive: %w", err)
	}

	prefix := strings.TrimSuffix(from, "/") + "/"
	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		rel := path.Clean(strings.TrimPrefix(name, prefix))
		if rel == "." || path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("extract: entry %q escapes the archive root", f.Name)
		}

		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("extract: read %s: %w", f.Name, err)
		}
		entries = append(entries, Entry{Path: path.Join(to, rel), Data: data})
	}
	return entries, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntryBytes)
	}
	return data, nil
}

// Materialize writes entries below root, creating parent directories.
func Materialize(root string, entries []Entry) error {
	for _, e := range entries {
		dst := filepath.Join(root, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("extract: mkdir for %s: %w", e.Path, err)
		}
		if err := os.WriteFile(dst, e.Data, 0o644); err != nil {
			return fmt.Errorf("extract: write %s: %w", e.Path, err)
		}
	}
	return nil
}

// ExpectedFromArtifact downloads the artifact and writes its actual/ subtree
// to root/expected/. An expired artifact is logged and leaves the expected
// set empty; any other failure is returned.
func ExpectedFromArtifact(ctx context.Context, dl Downloader, artifactID int64, root string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("downloading expected snapshots", "artifact_id", artifactID)

	archive, err := dl.DownloadArtifact(ctx, artifactID)
	if errors.Is(err, github.ErrArtifactExpired) {
		logger.Error("expected artifact has expired, comparing against an empty set", "artifact_id", artifactID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("extract: download artifact %d: %w", artifactID, err)
	}

	entries, err := Select(archive, ActualPrefix, ExpectedPrefix)
	if err != nil {
		return 0, err
	}
	if err := Materialize(root, entries); err != nil {
		return 0, err
	}
	logger.Info("extracted expected snapshots", "files", len(entries))
	return len(entries), nil
}
