// Package resolver locates the historical workflow run whose snapshot the
// current run is compared against.
//
// The search pages through the repository's workflow runs, newest first, and
// picks the first run whose head commit matches the target commit's short
// hash and which carries an artifact with the configured name. Matching is by
// 7-character prefix only; colliding prefixes resolve to whichever run the
// provider lists first.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/valreg/valreg-go/internal/github"
	"github.com/valreg/valreg-go/internal/observability"
)

const (
	// PageSize is the number of runs per listing page.
	PageSize = github.RunsPerPage
	// MaxPages caps the number of pages scanned.
	MaxPages = 200
	// ShortHashLen is the commit prefix length used to match runs.
	ShortHashLen = 7
	// defaultParallelism bounds concurrent artifact listings within a page.
	defaultParallelism = 4
)

var errPageCapReached = errors.New("page cap reached")

// RunLister lists workflow runs and their artifacts.
type RunLister interface {
	FetchRunsPage(ctx context.Context, page int) ([]github.Run, error)
	FetchArtifacts(ctx context.Context, runID int64) ([]github.Artifact, error)
}

// MergeBaser computes the merge-base of two commits.
type MergeBaser interface {
	MergeBase(ctx context.Context, base, head string) (string, error)
}

// Request describes one resolution.
type Request struct {
	// HasPullRequest is false for events without pull-request context.
	HasPullRequest bool
	BaseSHA        string
	HeadSHA        string
	// TargetHash, when set, replaces the merge-base computation.
	TargetHash   string
	ArtifactName string
}

// Match is the located run and its artifact.
type Match struct {
	Run        github.Run
	Artifact   github.Artifact
	TargetHash string
}

// Resolver finds the run to compare against.
type Resolver struct {
	runs        RunLister
	vcs         MergeBaser
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxPages    int
	parallelism int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithMetrics records scanned pages on m.
func WithMetrics(m *observability.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// WithMaxPages overrides the page cap.
func WithMaxPages(n int) Option { return func(r *Resolver) { r.maxPages = n } }

// WithParallelism bounds concurrent artifact listings per page. 1 lists
// sequentially.
func WithParallelism(n int) Option { return func(r *Resolver) { r.parallelism = n } }

// New creates a Resolver.
func New(runs RunLister, vcs MergeBaser, opts ...Option) *Resolver {
	r := &Resolver{
		runs:        runs,
		vcs:         vcs,
		logger:      slog.Default(),
		maxPages:    MaxPages,
		parallelism: defaultParallelism,
	}
	for _, o := range opts {
		o(r)
	}
	if r.parallelism < 1 {
		r.parallelism = 1
	}
	return r
}

// Resolve returns the matching run and artifact, or nil when there is none.
// It never fails: every error is logged and reported as absent.
func (r *Resolver) Resolve(ctx context.Context, req Request) *Match {
	ctx, span := observability.Tracer().Start(ctx, "resolver.Resolve")
	defer span.End()

	if !req.HasPullRequest {
		r.logger.Info("no pull request context, nothing to compare against")
		return nil
	}

	m, err := r.resolve(ctx, req)
	switch {
	case errors.Is(err, errPageCapReached):
		r.logger.Warn("target run not found within page cap", "max_pages", r.maxPages)
		return nil
	case err != nil:
		r.logger.Error("failed to resolve target run", "error", err)
		return nil
	case m == nil:
		r.logger.Info("no run carries the target artifact", "artifact", req.ArtifactName)
		return nil
	}
	r.logger.Info("resolved target run",
		"run_id", m.Run.ID, "head_sha", m.Run.HeadSHA,
		"artifact_id", m.Artifact.ID, "target_hash", m.TargetHash,
	)
	return m
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Match, error) {
	target := req.TargetHash
	if target == "" {
		mb, err := r.vcs.MergeBase(ctx, req.BaseSHA, req.HeadSHA)
		if err != nil {
			return nil, fmt.Errorf("resolver: merge-base: %w", err)
		}
		target = mb
	}
	short := ShortHash(target)
	if short == "" {
		return nil, fmt.Errorf("resolver: empty target hash")
	}
	r.logger.Info("searching runs", "target_hash", target, "short_hash", short)

	for page := 1; page <= r.maxPages; page++ {
		runs, err := r.runs.FetchRunsPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("resolver: page %d: %w", page, err)
		}
		r.metrics.RecordPage(ctx)

		m, err := r.scanPage(ctx, runs, short, req.ArtifactName)
		if err != nil {
			return nil, fmt.Errorf("resolver: page %d: %w", page, err)
		}
		if m != nil {
			m.TargetHash = target
			return m, nil
		}
		if len(runs) < PageSize {
			return nil, nil
		}
	}
	return nil, errPageCapReached
}

// scanPage lists artifacts of the page's matching runs concurrently and
// reduces the results in listing order, so the earliest listed run wins
// regardless of completion order. A listing error only counts when no earlier
// run carries the artifact.
func (r *Resolver) scanPage(ctx context.Context, runs []github.Run, short, artifactName string) (*Match, error) {
	var candidates []github.Run
	for _, run := range runs {
		if MatchesShortHash(run.HeadSHA, short) {
			candidates = append(candidates, run)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	found := make([]*github.Artifact, len(candidates))
	errs := make([]error, len(candidates))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, run := range candidates {
		g.Go(func() error {
			arts, err := r.runs.FetchArtifacts(ctx, run.ID)
			if err != nil {
				errs[i] = fmt.Errorf("run %d: %w", run.ID, err)
				return nil
			}
			for _, a := range arts {
				if a.Name == artifactName {
					found[i] = &a
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range candidates {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if found[i] != nil {
			return &Match{Run: candidates[i], Artifact: *found[i]}, nil
		}
	}
	return nil, nil
}

// ShortHash returns the first ShortHashLen characters of hash.
func ShortHash(hash string) string {
	if len(hash) <= ShortHashLen {
		return hash
	}
	return hash[:ShortHashLen]
}

// MatchesShortHash reports whether sha starts with short.
func MatchesShortHash(sha, short string) bool {
	return short != "" && len(sha) >= len(short) && sha[:len(short)] == short
}
