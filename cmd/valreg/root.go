package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "valreg",
		Short: "valreg - metric regression reports for pull requests",
		Long: `valreg snapshots JSON metrics produced by a CI job, compares them with the
snapshots stored by the run of the merge-base commit and comments the result on
the pull request.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("valreg version {{.Version}}\n")

	root.AddCommand(newRunCmd(), newCompareCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "valreg version %s\n", Version)
		},
	}
}
