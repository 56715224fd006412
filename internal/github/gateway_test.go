package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/retry"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialInterval = time.Millisecond
	p.MaxInterval = 2 * time.Millisecond
	p.Jitter = 0
	p.Logger = observability.Discard()
	return p
}

func newTestGateway(t *testing.T, mux *http.ServeMux) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := gh.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	g, err := NewFromClient(client, "acme/widgets", Options{
		Policy:     fastPolicy(),
		HTTPClient: srv.Client(),
		Logger:     observability.Discard(),
	})
	require.NoError(t, err)
	return g, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewFromClient_RejectsBadRepository(t *testing.T) {
	t.Parallel()

	for _, repo := range []string{"", "acme", "/widgets", "acme/", "a/b/c"} {
		_, err := NewFromClient(gh.NewClient(nil), repo, Options{})
		assert.Error(t, err, repo)
	}
}

func TestFetchRunsPage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		writeJSON(w, map[string]any{
			"total_count": 2,
			"workflow_runs": []map[string]any{
				{"id": 11, "head_sha": "abc1234def"},
				{"id": 10, "head_sha": "0000000aaa"},
			},
		})
	})
	g, _ := newTestGateway(t, mux)

	runs, err := g.FetchRunsPage(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []Run{{ID: 11, HeadSHA: "abc1234def"}, {ID: 10, HeadSHA: "0000000aaa"}}, runs)
}

func TestFetchRunsPage_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"workflow_runs": []map[string]any{{"id": 1, "head_sha": "f00"}}})
	})
	g, _ := newTestGateway(t, mux)

	runs, err := g.FetchRunsPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRunsPage_GivesUpAfterFiveAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	g, _ := newTestGateway(t, mux)

	_, err := g.FetchRunsPage(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(retry.DefaultMaxAttempts), calls.Load())
}

func TestFetchRunsPage_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"message": "Not Found"})
	})
	g, _ := newTestGateway(t, mux)

	_, err := g.FetchRunsPage(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchArtifacts_FollowsPages(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/runs/42/artifacts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]any{"artifacts": []map[string]any{{"id": 2, "name": "valreg", "expired": true}}})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/actions/runs/42/artifacts?page=2>; rel="next"`, srvURL))
		writeJSON(w, map[string]any{"artifacts": []map[string]any{{"id": 1, "name": "coverage"}}})
	})
	g, srv := newTestGateway(t, mux)
	srvURL = srv.URL

	arts, err := g.FetchArtifacts(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []Artifact{{ID: 1, Name: "coverage"}, {ID: 2, Name: "valreg", Expired: true}}, arts)
}

func TestDownloadArtifact_FollowsSignedURL(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/artifacts/7/zip", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		http.Redirect(w, r, srvURL+"/blob/7?sig=abc", http.StatusFound)
	})
	mux.HandleFunc("/blob/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("sig"))
		_, _ = w.Write([]byte("PK-zip-bytes"))
	})
	g, srv := newTestGateway(t, mux)
	srvURL = srv.URL

	data, err := g.DownloadArtifact(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "PK-zip-bytes", string(data))
}

func TestDownloadArtifact_GoneIsExpired(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/artifacts/7/zip", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	})
	g, _ := newTestGateway(t, mux)

	_, err := g.DownloadArtifact(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifactExpired))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadArtifact_BlobGoneIsExpired(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/actions/artifacts/7/zip", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srvURL+"/blob/7", http.StatusFound)
	})
	mux.HandleFunc("/blob/7", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	g, srv := newTestGateway(t, mux)
	srvURL = srv.URL

	_, err := g.DownloadArtifact(context.Background(), 7)
	assert.ErrorIs(t, err, ErrArtifactExpired)
}

func TestComments(t *testing.T) {
	t.Parallel()

	var (
		created string
		edited  string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var c gh.IssueComment
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			created = c.GetBody()
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]any{"id": 900})
		default:
			writeJSON(w, []map[string]any{
				{"id": 100, "body": "lgtm"},
				{"id": 101, "body": "report\n<!-- valreg:perf -->"},
			})
		}
	})
	mux.HandleFunc("/repos/acme/widgets/issues/comments/101", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var c gh.IssueComment
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		edited = c.GetBody()
		writeJSON(w, map[string]any{"id": 101})
	})
	g, _ := newTestGateway(t, mux)
	ctx := context.Background()

	require.NoError(t, g.PostComment(ctx, 5, "hello"))
	assert.Equal(t, "hello", created)

	id, ok, err := g.FindComment(ctx, 5, "<!-- valreg:perf -->")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(101), id)

	_, ok, err = g.FindComment(ctx, 5, "<!-- valreg:size -->")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.UpdateComment(ctx, id, "updated"))
	assert.True(t, strings.HasPrefix(edited, "updated"))
}
