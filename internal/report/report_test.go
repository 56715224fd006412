package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valreg/valreg-go/internal/compare"
	"github.com/valreg/valreg-go/internal/metric"
	"github.com/valreg/valreg-go/internal/policy"
)

func sampleOutput() compare.Output {
	exp := metric.Metric{FileName: "perf.json", MetricName: "lcp", Value: 10, Threshold: 1, Unit: "ms", DecimalDigits: 2}
	act := exp
	act.Value = 12.5
	return compare.Output{
		OverThreshold: []metric.ComparedMetric{metric.Compare(exp, act)},
		New:           []metric.Metric{{FileName: "web/size.json", MetricName: "bundle", Value: 120.456, Threshold: 1, Unit: "KB", DecimalDigits: 1}},
	}
}

func TestWithTarget(t *testing.T) {
	t.Parallel()

	out := sampleOutput()
	body, err := WithTarget(Input{
		RepositoryURL: "https://github.com/acme/widgets",
		RunURL:        "https://github.com/acme/widgets/actions/runs/9",
		CurrentSHA:    "2222222bbbbbbbbb",
		TargetSHA:     "1111111aaaaaaaaa",
		ArtifactName:  "perf",
		Output:        out,
		Decision:      policy.NewEngine().Decide(out, true),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(body, Marker("perf")))
	assert.Contains(t, body, "[2222222](https://github.com/acme/widgets/commit/2222222bbbbbbbbb)")
	assert.Contains(t, body, "/compare/1111111...2222222")
	assert.Contains(t, body, "change%20detected")
	assert.Contains(t, body, "## ArtifactName: `perf`")
	assert.Contains(t, body, "| perf | lcp | 12.5ms(+2.5ms) |<!-- expected: ")
	assert.Contains(t, body, "| web/size | bundle | 120.4KB |<!-- actual: ")
	assert.NotContains(t, body, "There is no over threshold metrics")
	assert.NotContains(t, body, "\n\n\n")
}

func TestWithTarget_NoChanges(t *testing.T) {
	t.Parallel()

	m := metric.Metric{FileName: "a.json", MetricName: "x", Value: 1, Threshold: 1, DecimalDigits: 2}
	out := compare.Output{WithinThreshold: []metric.ComparedMetric{metric.Compare(m, m)}}
	body, err := WithTarget(Input{
		RepositoryURL: "https://github.com/acme/widgets",
		CurrentSHA:    "2222222",
		TargetSHA:     "1111111",
		ArtifactName:  "valreg",
		Output:        out,
		Decision:      policy.NewEngine().Decide(out, true),
		ReportURL:     "https://github.com/acme/widgets/tree/reports/x",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "There is no over threshold metrics")
	assert.Contains(t, body, "| a | x | 1(±0) |")
	assert.Contains(t, body, "reg-passed-green")
	assert.Contains(t, body, "stored [here](https://github.com/acme/widgets/tree/reports/x)")
}

func TestWithoutTarget(t *testing.T) {
	t.Parallel()

	out := sampleOutput()
	body, err := WithoutTarget(Input{ArtifactName: "perf", Output: out, Decision: policy.NewEngine().Decide(out, false)})
	require.NoError(t, err)
	assert.Contains(t, body, Marker("perf"))
	assert.Contains(t, body, "Failed to find a target artifact.")
	assert.Contains(t, body, "reg-new%20items-blue")
	assert.Contains(t, body, "| web/size | bundle | 120.4KB |")

	body, err = WithoutTarget(Input{ArtifactName: "perf", Decision: policy.NewEngine().Decide(compare.Output{}, false)})
	require.NoError(t, err)
	assert.Contains(t, body, "no metrics found.")
}

func TestRows_EscapesAndSanitizes(t *testing.T) {
	t.Parallel()

	rows := Rows([]metric.Metric{{FileName: "a|b.json", MetricName: "x--y", Value: 1, DecimalDigits: 2}})
	require.Len(t, rows, 1)
	assert.Equal(t, "a|b", rows[0].File)
	assert.NotContains(t, strings.TrimSuffix(strings.TrimPrefix(rows[0].Debug, "<!--"), "-->"), "--")

	assert.Equal(t, "-", table([]metric.Metric(nil), "-"))
	assert.Contains(t, table([]metric.Metric{{FileName: "a|b.json", MetricName: "m"}}, ""), `a\|b`)
	assert.Nil(t, Rows("unsupported"))
}
