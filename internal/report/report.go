// Package report renders comparison output as Markdown for pull-request
// comments and the job summary.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"

	"github.com/valreg/valreg-go/internal/compare"
	"github.com/valreg/valreg-go/internal/metric"
	"github.com/valreg/valreg-go/internal/policy"
)

// Marker identifies the bot's comment for artifactName so it can be updated
// in place.
func Marker(artifactName string) string {
	return fmt.Sprintf("<!-- valreg:%s -->", artifactName)
}

// Input is everything a report needs.
type Input struct {
	RepositoryURL string
	RunURL        string
	CurrentSHA    string
	TargetSHA     string
	ArtifactName  string
	// ReportURL links to the pushed report directory, if any.
	ReportURL string

	Output   compare.Output
	Decision policy.Decision
}

// Row is one table line.
type Row struct {
	File   string
	Metric string
	Value  string
	Debug  string
}

var funcs = func() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["marker"] = Marker
	fm["table"] = table
	return fm
}()

var withTargetTmpl = template.Must(template.New("with-target").Funcs(funcs).Parse(
	`{{ marker .ArtifactName }}
This report was generated by comparing [{{ trunc 7 .CurrentSHA }}]({{ .RepositoryURL }}/commit/{{ .CurrentSHA }}) with [{{ trunc 7 .TargetSHA }}]({{ .RepositoryURL }}/commit/{{ .TargetSHA }}).
If you would like to check difference, please check [here]({{ .RepositoryURL }}/compare/{{ trunc 7 .TargetSHA }}...{{ trunc 7 .CurrentSHA }}).

{{ .Decision.Badge }}
## ArtifactName: ` + "`{{ .ArtifactName }}`" + `
{{ if not .Output.HasChanges }}
✨✨ There is no over threshold metrics! ✨✨
{{ end }}
### 📝 Over threshold metrics
{{ table .Output.OverThreshold "" }}

### 📝 Within threshold metrics
{{ table .Output.WithinThreshold "" }}

<details>
<summary>📝 New metrics</summary>
{{ table .Output.New "" }}
</details>

<details>
<summary>⚠️ Deleted metrics</summary>
{{ table .Output.Deleted "" }}
</details>
{{ if .ReportURL }}
Snapshots of this comparison are stored [here]({{ .ReportURL }}).
{{ end }}{{ if .RunURL }}
<sub>[workflow run]({{ .RunURL }})</sub>
{{ end }}`))

var withoutTargetTmpl = template.Must(template.New("without-target").Funcs(funcs).Parse(
	`{{ marker .ArtifactName }}
## ArtifactName: ` + "`{{ .ArtifactName }}`" + `

Failed to find a target artifact.
All items will be treated as new items and will be used as expected data for the next time.

{{ .Decision.Badge }}
{{ table .Output.New "no metrics found." }}
{{ if .RunURL }}
<sub>[workflow run]({{ .RunURL }})</sub>
{{ end }}`))

// WithTarget renders the report for a run that found a historical snapshot.
func WithTarget(in Input) (string, error) {
	return render(withTargetTmpl, in)
}

// WithoutTarget renders the report when nothing was found to compare against.
func WithoutTarget(in Input) (string, error) {
	return render(withoutTargetTmpl, in)
}

func render(t *template.Template, in Input) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("report: render %s: %w", t.Name(), err)
	}
	return collapseBlankLines(buf.String()), nil
}

// table renders metrics ([]metric.Metric or []metric.ComparedMetric) as a
// Markdown table, or empty when there are none.
func table(v any, empty string) string {
	rows := Rows(v)
	if len(rows) == 0 {
		return empty
	}
	var b strings.Builder
	b.WriteString("\n| file | metrics | value |\n|:-----|:--------|:-----:|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s |%s\n", escape(r.File), escape(r.Metric), escape(r.Value), r.Debug)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Rows converts metrics to table rows. The file column drops the .json
// extension; compared metrics show "actual(diff)"; every row carries a hidden
// JSON payload for debugging.
func Rows(v any) []Row {
	var rows []Row
	switch ms := v.(type) {
	case []metric.ComparedMetric:
		for _, m := range ms {
			rows = append(rows, Row{
				File:   strings.TrimSuffix(m.FileName, ".json"),
				Metric: m.MetricName,
				Value:  m.ActualStr + "(" + m.DiffStr + ")",
				Debug:  fmt.Sprintf("<!-- expected: %s, actual: %s -->", debugJSON(m.Expected), debugJSON(m.Actual)),
			})
		}
	case []metric.Metric:
		for _, m := range ms {
			rows = append(rows, Row{
				File:   strings.TrimSuffix(m.FileName, ".json"),
				Metric: m.MetricName,
				Value:  metric.Format(m.Value, m.DecimalDigits, m.Unit),
				Debug:  fmt.Sprintf("<!-- actual: %s -->", debugJSON(m)),
			})
		}
	}
	return rows
}

func debugJSON(m metric.Metric) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	// An HTML comment must not contain "--".
	s := string(b)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "- -")
	}
	return s
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s) + "\n"
}
