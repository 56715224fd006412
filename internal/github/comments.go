package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/valreg/valreg-go/internal/ratelimit"
	"github.com/valreg/valreg-go/internal/retry"
)

// PostComment creates a comment on an issue or pull request.
func (g *Gateway) PostComment(ctx context.Context, issue int, body string) error {
	err := retry.Do(ctx, g.policy, "post-comment", func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx, ratelimit.REST); err != nil {
			return retry.Permanent(err)
		}
		_, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, issue, &gh.IssueComment{Body: gh.String(body)})
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("github: post comment on #%d: %w", issue, err)
	}
	return nil
}

// UpdateComment replaces the body of an existing comment.
func (g *Gateway) UpdateComment(ctx context.Context, commentID int64, body string) error {
	err := retry.Do(ctx, g.policy, "update-comment", func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx, ratelimit.REST); err != nil {
			return retry.Permanent(err)
		}
		_, _, err := g.client.Issues.EditComment(ctx, g.owner, g.repo, commentID, &gh.IssueComment{Body: gh.String(body)})
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("github: update comment %d: %w", commentID, err)
	}
	return nil
}

// FindComment returns the id of the first comment on issue whose body
// contains marker.
func (g *Gateway) FindComment(ctx context.Context, issue int, marker string) (int64, bool, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		type page struct {
			comments []*gh.IssueComment
			next     int
		}
		p, err := retry.DoValue(ctx, g.policy, "list-comments", func(ctx context.Context) (page, error) {
			if err := g.limiter.Wait(ctx, ratelimit.REST); err != nil {
				return page{}, retry.Permanent(err)
			}
			cs, resp, err := g.client.Issues.ListComments(ctx, g.owner, g.repo, issue, opts)
			if err != nil {
				return page{}, classify(err)
			}
			next := 0
			if resp != nil {
				next = resp.NextPage
			}
			return page{comments: cs, next: next}, nil
		})
		if err != nil {
			return 0, false, fmt.Errorf("github: list comments on #%d: %w", issue, err)
		}

		for _, c := range p.comments {
			if strings.Contains(c.GetBody(), marker) {
				return c.GetID(), true, nil
			}
		}
		if p.next == 0 {
			return 0, false, nil
		}
		opts.Page = p.next
	}
}
