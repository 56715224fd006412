// Package policy decides the verdict of a comparison: which badge the report
// shows and whether the run fails.
package policy

import (
	"errors"
	"fmt"

	"github.com/valreg/valreg-go/internal/compare"
)

// Verdict is the outcome of one comparison.
type Verdict string

const (
	VerdictChangeDetected Verdict = "change_detected"
	VerdictNewItems       Verdict = "new_items"
	VerdictDeletedItems   Verdict = "deleted_items"
	VerdictPassed         Verdict = "passed"
	VerdictNoTarget       Verdict = "no_target"
)

// ErrRegression is returned by Gate when the run must fail.
var ErrRegression = errors.New("policy: metrics over threshold")

// Decision captures the verdict, its badge and whether the run fails.
type Decision struct {
	Verdict Verdict
	Badge   string
	Details string
	Fail    bool
}

var badges = map[Verdict]string{
	VerdictChangeDetected: "![change detected](https://img.shields.io/badge/%E2%9C%94%20reg-change%20detected-orange)",
	VerdictNewItems:       "![new items](https://img.shields.io/badge/%E2%9C%94%20reg-new%20items-green)",
	VerdictDeletedItems:   "![deleted items](https://img.shields.io/badge/%E2%9C%94%20reg-deleted%20items-yellow)",
	VerdictPassed:         "![success](https://img.shields.io/badge/%E2%9C%94%20reg-passed-green)",
	VerdictNoTarget:       "![target not found](https://img.shields.io/badge/%E2%9C%94%20reg-new%20items-blue)",
}

// Badge returns the Markdown badge for v.
func Badge(v Verdict) string { return badges[v] }

// Engine evaluates comparison output.
type Engine struct {
	// FailOnRegression fails the run when any metric is over threshold.
	FailOnRegression bool
}

// NewEngine returns an engine that never fails the run.
func NewEngine() *Engine {
	return &Engine{}
}

// Decide evaluates out. targetFound is false when there was no historical
// run to compare against.
//
// Rules, first match wins:
//  1. No target → no_target.
//  2. Any metric over threshold → change_detected (fails with FailOnRegression).
//  3. Any new metric → new_items.
//  4. Any deleted metric → deleted_items.
//  5. Otherwise → passed.
func (e *Engine) Decide(out compare.Output, targetFound bool) Decision {
	c := out.Counts()

	var d Decision
	switch {
	case !targetFound:
		d = Decision{Verdict: VerdictNoTarget, Details: fmt.Sprintf("no target run; %d new metric(s)", c.New)}
	case c.OverThreshold > 0:
		d = Decision{
			Verdict: VerdictChangeDetected,
			Details: fmt.Sprintf("%d metric(s) over threshold", c.OverThreshold),
			Fail:    e.FailOnRegression,
		}
	case c.New > 0:
		d = Decision{Verdict: VerdictNewItems, Details: fmt.Sprintf("%d new metric(s)", c.New)}
	case c.Deleted > 0:
		d = Decision{Verdict: VerdictDeletedItems, Details: fmt.Sprintf("%d deleted metric(s)", c.Deleted)}
	default:
		d = Decision{Verdict: VerdictPassed, Details: fmt.Sprintf("%d metric(s) within threshold", c.WithinThreshold)}
	}
	d.Badge = Badge(d.Verdict)
	return d
}

// Gate returns ErrRegression when d fails the run.
func Gate(d Decision) error {
	if d.Fail {
		return fmt.Errorf("%w: %s", ErrRegression, d.Details)
	}
	return nil
}
