// Package metric models the numeric measurements stored in snapshot files and
// the comparison of one measurement against its historical counterpart.
package metric

import (
	"math"
	"sort"
	"strings"
)

// Defaults applied when a snapshot entry omits an optional field.
const (
	DefaultThreshold     = 1.0
	DefaultUnit          = ""
	DefaultDecimalDigits = 2
)

// Metric is one named numeric measurement parsed from a snapshot file.
type Metric struct {
	FileName      string  `json:"fileName"`
	MetricName    string  `json:"metricName"`
	Value         float64 `json:"value"`
	Threshold     float64 `json:"threshold"`
	Unit          string  `json:"unit"`
	DecimalDigits int     `json:"decimalDigits"`
}

// ComparedMetric pairs an expected metric with the actual metric of the same identity.
type ComparedMetric struct {
	FileName    string `json:"fileName"`
	MetricName  string `json:"metricName"`
	ActualStr   string `json:"actualStr"`
	ExpectedStr string `json:"expectedStr"`
	DiffStr     string `json:"diffStr"`
	Within      bool   `json:"within"`

	Actual   Metric `json:"actual"`
	Expected Metric `json:"expected"`
}

// SameIdentity reports whether a and b describe the same measurement.
// Value, threshold, unit and digits are not part of identity.
func SameIdentity(a, b Metric) bool {
	return a.FileName == b.FileName && a.MetricName == b.MetricName
}

// Order is the total order used for iteration and matching: FileName, then MetricName.
func Order(a, b Metric) int {
	if c := strings.Compare(a.FileName, b.FileName); c != 0 {
		return c
	}
	return strings.Compare(a.MetricName, b.MetricName)
}

// Sort orders metrics in place by Order.
func Sort(ms []Metric) {
	sort.SliceStable(ms, func(i, j int) bool { return Order(ms[i], ms[j]) < 0 })
}

// Compare computes the delta between expected and actual. Display policy
// (threshold, unit, digits) is taken from actual.
func Compare(expected, actual Metric) ComparedMetric {
	diff := actual.Value - expected.Value

	return ComparedMetric{
		FileName:    actual.FileName,
		MetricName:  actual.MetricName,
		ActualStr:   Format(actual.Value, actual.DecimalDigits, actual.Unit),
		ExpectedStr: Format(expected.Value, actual.DecimalDigits, actual.Unit),
		DiffStr:     formatDiff(diff, actual.DecimalDigits, actual.Unit),
		Within:      math.Abs(diff) <= actual.Threshold,
		Actual:      actual,
		Expected:    expected,
	}
}

func formatDiff(diff float64, digits int, unit string) string {
	s := truncate(diff, digits)
	switch {
	case s == "0":
		return "±0" + unit
	case diff > 0:
		return "+" + s + unit
	default:
		return s + unit
	}
}
