package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pysugar/mailauth/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailauth %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildTime)
		},
	}
}
