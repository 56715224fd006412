package actions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadContext(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "acme/widgets")
	t.Setenv("GITHUB_RUN_ID", "123456")
	t.Setenv("GITHUB_RUN_ATTEMPT", "2")
	t.Setenv("GITHUB_SERVER_URL", "https://ghe.example.com/")
	t.Setenv("ACTIONS_RESULTS_URL", "https://results.example.com/")
	t.Setenv("GITHUB_ACTOR", "")

	c, err := LoadContext()
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", c.Repository)
	assert.Equal(t, int64(123456), c.RunID)
	assert.Equal(t, 2, c.RunAttempt)
	assert.Equal(t, "github-actions[bot]", c.Actor)
	assert.Equal(t, "https://results.example.com", c.ResultsURL)
	assert.Equal(t, "https://ghe.example.com/acme/widgets/actions/runs/123456", c.RunURL())
	assert.Equal(t, "https://ghe.example.com/acme/widgets/commit/abc", c.CommitURL("abc"))
	assert.Equal(t, "https://ghe.example.com/acme/widgets/compare/a...b", c.CompareURL("a", "b"))
}

func TestLoadContext_Defaults(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "acme/widgets")
	t.Setenv("GITHUB_RUN_ID", "1")
	t.Setenv("GITHUB_RUN_ATTEMPT", "")
	t.Setenv("GITHUB_SERVER_URL", "")

	c, err := LoadContext()
	require.NoError(t, err)
	assert.Equal(t, 1, c.RunAttempt)
	assert.Equal(t, DefaultServerURL, c.ServerURL)
}

func TestLoadContext_Errors(t *testing.T) {
	tests := map[string]map[string]string{
		"missing repository": {"GITHUB_REPOSITORY": "", "GITHUB_RUN_ID": "1"},
		"missing run id":     {"GITHUB_REPOSITORY": "a/b", "GITHUB_RUN_ID": ""},
		"bad run id":         {"GITHUB_REPOSITORY": "a/b", "GITHUB_RUN_ID": "x"},
		"bad attempt":        {"GITHUB_REPOSITORY": "a/b", "GITHUB_RUN_ID": "1", "GITHUB_RUN_ATTEMPT": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("GITHUB_RUN_ATTEMPT", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadContext()
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "actions: "))
		})
	}
}
