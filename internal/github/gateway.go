// Package github is the gateway to the GitHub REST API. Every call crosses the
// network boundary through retry.DoValue with its own attempt budget and is
// paced by a ratelimit.Limiter.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/ratelimit"
	"github.com/valreg/valreg-go/internal/retry"
)

// RunsPerPage is the workflow-run page size.
const RunsPerPage = 50

// maxArtifactBytes caps a downloaded artifact archive.
const maxArtifactBytes = 512 << 20

// ErrArtifactExpired is returned when the artifact archive is no longer
// retrievable (HTTP 410).
var ErrArtifactExpired = errors.New("github: artifact expired")

// Run is one historical workflow run.
type Run struct {
	ID      int64  `json:"id"`
	HeadSHA string `json:"headSha"`
}

// Artifact is one artifact attached to a workflow run.
type Artifact struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Expired bool   `json:"expired"`
}

// Options tune a Gateway. Zero values fall back to defaults.
type Options struct {
	Policy     retry.Policy
	Limiter    *ratelimit.Limiter
	HTTPClient *http.Client // used for signed blob URLs
	Logger     *slog.Logger
}

// Gateway wraps the REST calls the bot needs for one repository.
type Gateway struct {
	client *gh.Client
	owner  string
	repo   string

	blob    *http.Client
	limiter *ratelimit.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

// New creates a Gateway authenticated with token for repository "owner/name".
func New(token, repository string, opts Options) (*Gateway, error) {
	hc := observability.HTTPClient(nil)
	hc.Timeout = 60 * time.Second
	client := gh.NewClient(hc).WithAuthToken(token)
	return NewFromClient(client, repository, opts)
}

// NewFromClient creates a Gateway from an explicit go-github client (for testing).
func NewFromClient(client *gh.Client, repository string, opts Options) (*Gateway, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("github: repository %q must be owner/name", repository)
	}

	g := &Gateway{
		client:  client,
		owner:   owner,
		repo:    repo,
		blob:    opts.HTTPClient,
		limiter: opts.Limiter,
		policy:  opts.Policy,
		logger:  opts.Logger,
	}
	if g.blob == nil {
		g.blob = observability.HTTPClient(nil)
		g.blob.Timeout = 5 * time.Minute
	}
	if g.policy.MaxAttempts == 0 {
		g.policy = retry.DefaultPolicy().WithObservers(opts.Policy.Logger, opts.Policy.Metrics)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.policy.Logger == nil {
		g.policy.Logger = g.logger
	}
	return g, nil
}

// Repository returns "owner/name".
func (g *Gateway) Repository() string { return g.owner + "/" + g.repo }

// FetchRunsPage lists one page (1-based, RunsPerPage entries) of the
// repository's workflow runs, newest first.
func (g *Gateway) FetchRunsPage(ctx context.Context, page int) ([]Run, error) {
	runs, err := retry.DoValue(ctx, g.policy, "list-runs", func(ctx context.Context) ([]Run, error) {
		if err := g.limiter.Wait(ctx, ratelimit.REST); err != nil {
			return nil, retry.Permanent(err)
		}
		out, _, err := g.client.Actions.ListRepositoryWorkflowRuns(ctx, g.owner, g.repo, &gh.ListWorkflowRunsOptions{
			ListOptions: gh.ListOptions{Page: page, PerPage: RunsPerPage},
		})
		if err != nil {
			return nil, classify(err)
		}
		runs := make([]Run, 0, len(out.WorkflowRuns))
		for _, r := range out.WorkflowRuns {
			runs = append(runs, Run{ID: r.GetID(), HeadSHA: r.GetHeadSHA()})
		}
		return runs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("github: list runs page %d: %w", page, err)
	}
	return runs, nil
}

// FetchArtifacts lists the artifacts of one workflow run.
func (g *Gateway) FetchArtifacts(ctx context.Context, runID int64) ([]Artifact, error) {
	arts, err := retry.DoValue(ctx, g.policy, "list-artifacts", func(ctx context.Context) ([]Artifact, error) {
		var all []Artifact
		opts := &gh.ListOptions{PerPage: 100}
		for {
			if err := g.limiter.Wait(ctx, ratelimit.REST); err != nil {
				return nil, retry.Permanent(err)
			}
			out, resp, err := g.client.Actions.ListWorkflowRunArtifacts(ctx, g.owner, g.repo, runID, opts)
			if err != nil {
				return nil, classify(err)
			}
			for _, a := range out.Artifacts {
				all = append(all, Artifact{ID: a.GetID(), Name: a.GetName(), Expired: a.GetExpired()})
			}
			if resp == nil || resp.NextPage == 0 {
				return all, nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return nil, fmt.Errorf("github: list artifacts of run %d: %w", runID, err)
	}
	return arts, nil
}

// DownloadArtifact fetches the zip archive of an artifact. An expired
// artifact yields ErrArtifactExpired without retrying.
func (g *Gateway) DownloadArtifact(ctx context.Context, artifactID int64) ([]byte, error) {
	data, err := retry.DoValue(ctx, g.policy, "download-artifact", func(ctx context.Context) ([]byte, error) {
		if err := g.limiter.Wait(ctx, ratelimit.Download); err != nil {
			return nil, retry.Permanent(err)
		}
		u, resp, err := g.client.Actions.DownloadArtifact(ctx, g.owner, g.repo, artifactID, 1)
		if err != nil {
			if resp != nil {
				switch resp.StatusCode {
				case http.StatusGone:
					return nil, retry.Permanent(ErrArtifactExpired)
				case http.StatusNotFound, http.StatusUnauthorized:
					return nil, retry.Permanent(err)
				}
			}
			return nil, classify(err)
		}
		return g.fetchBlob(ctx, u.String())
	})
	if err != nil {
		return nil, fmt.Errorf("github: download artifact %d: %w", artifactID, err)
	}
	return data, nil
}

func (g *Gateway) fetchBlob(ctx context.Context, signedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := g.blob.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, retry.Permanent(ErrArtifactExpired)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("blob: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArtifactBytes {
		return nil, retry.Permanent(fmt.Errorf("blob: archive exceeds %d bytes", maxArtifactBytes))
	}
	return data, nil
}

// classify marks client errors that cannot succeed on retry as permanent.
// Rate limiting and server errors stay retryable.
func classify(err error) error {
	var rle *gh.RateLimitError
	var arle *gh.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return err
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound,
			http.StatusGone, http.StatusUnprocessableEntity:
			return retry.Permanent(err)
		}
	}
	return err
}
