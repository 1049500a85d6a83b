package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trustsim",
		Short: "Headless two-world trust simulation",
		Long: `trustsim runs the Good/Mixed trust simulation without a server.

It can step an engine for a fixed number of ticks, optionally recording the
same tick log and index the server writes, and inspect what a server left
in its data directory.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newHistoryCmd(),
		newSnapshotsCmd(),
	)
	return rootCmd
}
