// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/valreg/valreg-go/internal/publish"
	"github.com/valreg/valreg-go/internal/resolver"
)

// ScenariosDir returns the absolute path to the snapshot scenarios. Each
// scenario has an expected/ and an actual/ tree.
func ScenariosDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "testdata", "scenarios")
}

// Scenario returns the expected and actual directories of scenario name.
func Scenario(name string) (expected, actual string) {
	dir := filepath.Join(ScenariosDir(), name)
	return filepath.Join(dir, "expected"), filepath.Join(dir, "actual")
}

// ZipArchive builds an in-memory zip from path -> contents.
func ZipArchive(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(files[n])); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ZipDir zips every file below dir with prefix prepended to its relative
// path, the way an uploaded workspace artifact looks.
func ZipDir(dir, prefix string) ([]byte, error) {
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[prefix+"/"+filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ZipArchive(files), nil
}

// StubResolver returns a fixed match and records requests.
type StubResolver struct {
	Match    *resolver.Match
	Requests []resolver.Request
}

func (s *StubResolver) Resolve(_ context.Context, req resolver.Request) *resolver.Match {
	s.Requests = append(s.Requests, req)
	return s.Match
}

// StubDownloader serves one archive for any artifact id.
type StubDownloader struct {
	Archive []byte
	Err     error
	IDs     []int64
}

func (s *StubDownloader) DownloadArtifact(_ context.Context, id int64) ([]byte, error) {
	s.IDs = append(s.IDs, id)
	return s.Archive, s.Err
}

// Upload is one recorded StubUploader call.
type Upload struct {
	Root  string
	Files []string
	Name  string
}

// StubUploader records uploads.
type StubUploader struct {
	mu      sync.Mutex
	Uploads []Upload
	Err     error
}

func (s *StubUploader) Upload(_ context.Context, root string, files []string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Uploads = append(s.Uploads, Upload{Root: root, Files: append([]string(nil), files...), Name: name})
	return s.Err
}

// Comment is a comment held by StubCommenter.
type Comment struct {
	ID    int64
	Issue int
	Body  string
}

// StubCommenter keeps comments in memory.
type StubCommenter struct {
	Comments []Comment
	Updates  int
	Err      error
	nextID   int64
}

func (s *StubCommenter) PostComment(_ context.Context, issue int, body string) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	s.Comments = append(s.Comments, Comment{ID: s.nextID, Issue: issue, Body: body})
	return nil
}

func (s *StubCommenter) UpdateComment(_ context.Context, id int64, body string) error {
	if s.Err != nil {
		return s.Err
	}
	for i := range s.Comments {
		if s.Comments[i].ID == id {
			s.Comments[i].Body = body
			s.Updates++
			return nil
		}
	}
	return os.ErrNotExist
}

func (s *StubCommenter) FindComment(_ context.Context, issue int, marker string) (int64, bool, error) {
	if s.Err != nil {
		return 0, false, s.Err
	}
	for _, c := range s.Comments {
		if c.Issue == issue && strings.Contains(c.Body, marker) {
			return c.ID, true, nil
		}
	}
	return 0, false, nil
}

// StubSummary collects job summary bodies.
type StubSummary struct {
	Bodies []string
}

func (s *StubSummary) WriteJobSummary(body string) error {
	s.Bodies = append(s.Bodies, body)
	return nil
}

// StubPublisher records report branch pushes.
type StubPublisher struct {
	Dir      string
	Err      error
	Requests []publish.Request
}

func (s *StubPublisher) Publish(_ context.Context, req publish.Request) (string, error) {
	s.Requests = append(s.Requests, req)
	return s.Dir, s.Err
}
