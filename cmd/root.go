// Package cmd defines the CLI commands for the capture engine executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture-engine",
		Short: "Orchestrates repository data capture across realtime and bulk processors.",
		Long: `capture-engine schedules, routes and executes repository data capture
jobs. Incoming requests are scored, routed to a processing path, tracked
through a retry lifecycle and paced against the external API's hourly
call budget.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
