// Package actions reads the GitHub Actions runner environment and writes the
// runner's file-based outputs (job summary, step outputs). It also decodes the
// runtime and OIDC tokens the runner hands to a job.
package actions

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultServerURL is used when GITHUB_SERVER_URL is unset.
const DefaultServerURL = "https://github.com"

// Context is the subset of the runner environment the bot uses.
type Context struct {
	Repository string
	RunID      int64
	RunAttempt int
	SHA        string
	Actor      string
	EventName  string
	EventPath  string
	ServerURL  string

	StepSummaryPath string
	OutputPath      string

	RuntimeToken string
	ResultsURL   string

	IDTokenRequestURL   string
	IDTokenRequestToken string
}

// LoadContext reads the runner environment. GITHUB_REPOSITORY and
// GITHUB_RUN_ID are required.
func LoadContext() (Context, error) {
	c := Context{
		Repository:          os.Getenv("GITHUB_REPOSITORY"),
		SHA:                 os.Getenv("GITHUB_SHA"),
		Actor:               envOr("GITHUB_ACTOR", "github-actions[bot]"),
		EventName:           os.Getenv("GITHUB_EVENT_NAME"),
		EventPath:           os.Getenv("GITHUB_EVENT_PATH"),
		ServerURL:           strings.TrimRight(envOr("GITHUB_SERVER_URL", DefaultServerURL), "/"),
		StepSummaryPath:     os.Getenv("GITHUB_STEP_SUMMARY"),
		OutputPath:          os.Getenv("GITHUB_OUTPUT"),
		RuntimeToken:        os.Getenv("ACTIONS_RUNTIME_TOKEN"),
		ResultsURL:          strings.TrimRight(os.Getenv("ACTIONS_RESULTS_URL"), "/"),
		IDTokenRequestURL:   os.Getenv("ACTIONS_ID_TOKEN_REQUEST_URL"),
		IDTokenRequestToken: os.Getenv("ACTIONS_ID_TOKEN_REQUEST_TOKEN"),
	}

	if c.Repository == "" {
		return Context{}, fmt.Errorf("actions: GITHUB_REPOSITORY required")
	}
	runID, err := strconv.ParseInt(os.Getenv("GITHUB_RUN_ID"), 10, 64)
	if err != nil || runID <= 0 {
		return Context{}, fmt.Errorf("actions: invalid GITHUB_RUN_ID %q", os.Getenv("GITHUB_RUN_ID"))
	}
	c.RunID = runID

	c.RunAttempt = 1
	if v := os.Getenv("GITHUB_RUN_ATTEMPT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Context{}, fmt.Errorf("actions: invalid GITHUB_RUN_ATTEMPT %q", v)
		}
		c.RunAttempt = n
	}
	return c, nil
}

// RepositoryURL is the web URL of the repository.
func (c Context) RepositoryURL() string {
	return c.ServerURL + "/" + c.Repository
}

// RunURL is the web URL of the current workflow run.
func (c Context) RunURL() string {
	return fmt.Sprintf("%s/actions/runs/%d", c.RepositoryURL(), c.RunID)
}

// CommitURL is the web URL of one commit.
func (c Context) CommitURL(sha string) string {
	return c.RepositoryURL() + "/commit/" + sha
}

// CompareURL is the web URL comparing base...head.
func (c Context) CompareURL(base, head string) string {
	return c.RepositoryURL() + "/compare/" + base + "..." + head
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
