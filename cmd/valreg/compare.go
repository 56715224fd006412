package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valreg/valreg-go/internal/compare"
	"github.com/valreg/valreg-go/internal/policy"
)

// Exit codes of the compare command.
const (
	exitRegression = 1
	exitFailure    = 2
)

type compareResult struct {
	Verdict policy.Verdict `json:"verdict"`
	Details string         `json:"details"`
	Counts  compare.Counts `json:"counts"`
	Output  compare.Output `json:"output"`
}

func newCompareCmd() *cobra.Command {
	var expectedDir, actualDir string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare two snapshot directories",
		Long: `Compare the JSON snapshots below --expected with those below --actual and
print the classification as JSON.

Exit status is 0 when no metric is over threshold, 1 when at least one is and
2 when the snapshots could not be read.

Examples:
  valreg compare --expected base/metrics --actual metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := compare.CompareDirs(expectedDir, actualDir)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return &exitError{code: exitFailure}
			}

			d := (&policy.Engine{FailOnRegression: true}).Decide(out, true)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(compareResult{
				Verdict: d.Verdict,
				Details: d.Details,
				Counts:  out.Counts(),
				Output:  out,
			}); err != nil {
				return &exitError{code: exitFailure}
			}
			if d.Fail {
				return &exitError{code: exitRegression}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expectedDir, "expected", "", "directory of expected snapshots (required)")
	cmd.Flags().StringVar(&actualDir, "actual", "", "directory of actual snapshots (required)")
	_ = cmd.MarkFlagRequired("expected")
	_ = cmd.MarkFlagRequired("actual")
	return cmd
}
