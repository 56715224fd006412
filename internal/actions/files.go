package actions

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Summary appends Markdown to the job summary file. An empty path makes every
// write a no-op, which is what local runs get.
type Summary struct {
	path string
}

// NewSummary returns a Summary writing to path (usually GITHUB_STEP_SUMMARY).
func NewSummary(path string) *Summary {
	return &Summary{path: path}
}

// WriteJobSummary appends body to the job summary.
func (s *Summary) WriteJobSummary(body string) error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := appendFile(s.path, body+"\n"); err != nil {
		return fmt.Errorf("actions: write job summary: %w", err)
	}
	return nil
}

// SetOutputs appends step outputs to the GITHUB_OUTPUT file using the
// heredoc form, so values may span lines. An empty path is a no-op.
func SetOutputs(path string, outputs map[string]string) error {
	if path == "" || len(outputs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := outputs[k]
		delim := "ghadelimiter_" + uuid.NewString()
		if strings.Contains(k, delim) || strings.Contains(v, delim) {
			return fmt.Errorf("actions: output %q collides with delimiter", k)
		}
		fmt.Fprintf(&b, "%s<<%s\n%s\n%s\n", k, delim, v, delim)
	}

	if err := appendFile(path, b.String()); err != nil {
		return fmt.Errorf("actions: set outputs: %w", err)
	}
	return nil
}

func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
