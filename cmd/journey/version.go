package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/journey"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of journey",
	// The version needs no config.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "journey version %s\n", strings.TrimSpace(journey.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
