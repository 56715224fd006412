package compare

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/valreg/valreg-go/internal/metric"
)

type identity struct {
	file, name string
}

func keyOf(m metric.Metric) identity {
	return identity{file: m.FileName, name: m.MetricName}
}

// Compare matches actual metrics against expected metrics by identity.
// Matched pairs are filed as over or within threshold, unmatched actual metrics
// as new and unmatched expected metrics as deleted. Inputs are not modified.
func Compare(expected, actual []metric.Metric) Output {
	exp := sorted(expected)
	act := sorted(actual)

	expIdx := make(map[identity]int, len(exp))
	for i, m := range exp {
		if _, ok := expIdx[keyOf(m)]; !ok {
			expIdx[keyOf(m)] = i
		}
	}
	actSeen := make(map[identity]struct{}, len(act))

	var out Output
	for _, a := range act {
		actSeen[keyOf(a)] = struct{}{}

		i, ok := expIdx[keyOf(a)]
		if !ok {
			out.New = append(out.New, a)
			continue
		}
		c := metric.Compare(exp[i], a)
		if c.Within {
			out.WithinThreshold = append(out.WithinThreshold, c)
		} else {
			out.OverThreshold = append(out.OverThreshold, c)
		}
	}

	for _, e := range exp {
		if _, ok := actSeen[keyOf(e)]; !ok {
			out.Deleted = append(out.Deleted, e)
		}
	}
	return out
}

// CompareDirs loads both snapshot trees and compares them.
func CompareDirs(expectedDir, actualDir string) (Output, error) {
	expected, err := LoadDir(expectedDir)
	if err != nil {
		return Output{}, fmt.Errorf("compare: load expected: %w", err)
	}
	actual, err := LoadDir(actualDir)
	if err != nil {
		return Output{}, fmt.Errorf("compare: load actual: %w", err)
	}
	return Compare(expected, actual), nil
}

// LoadDir parses every *.json file below dir and returns the metrics sorted by
// metric.Order. A missing dir is an empty set; a malformed file is an error.
func LoadDir(dir string) ([]metric.Metric, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var all []metric.Metric
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		ms, err := metric.ParseSnapshot(dir, path)
		if err != nil {
			return err
		}
		all = append(all, ms...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	metric.Sort(all)
	return all, nil
}

func sorted(ms []metric.Metric) []metric.Metric {
	out := make([]metric.Metric, len(ms))
	copy(out, ms)
	metric.Sort(out)
	return out
}
