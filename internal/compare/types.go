// Package compare classifies the metrics of the current run against the
// metrics of a historical run.
package compare

import "github.com/valreg/valreg-go/internal/metric"

// Output is the result of one comparison pass. Every metric identity from the
// expected and actual sets lands in exactly one of the four slices, each kept
// in metric.Order.
type Output struct {
	OverThreshold   []metric.ComparedMetric `json:"overThresholdMetrics"`
	WithinThreshold []metric.ComparedMetric `json:"withinThresholdMetrics"`
	New             []metric.Metric         `json:"newMetrics"`
	Deleted         []metric.Metric         `json:"deletedMetrics"`
}

// HasChanges reports whether anything is over threshold, new or deleted.
func (o Output) HasChanges() bool {
	return len(o.OverThreshold) > 0 || len(o.New) > 0 || len(o.Deleted) > 0
}

// Counts summarises the size of each class.
type Counts struct {
	OverThreshold   int `json:"overThreshold"`
	WithinThreshold int `json:"withinThreshold"`
	New             int `json:"new"`
	Deleted         int `json:"deleted"`
}

// Counts returns the number of metrics in each class.
func (o Output) Counts() Counts {
	return Counts{
		OverThreshold:   len(o.OverThreshold),
		WithinThreshold: len(o.WithinThreshold),
		New:             len(o.New),
		Deleted:         len(o.Deleted),
	}
}
