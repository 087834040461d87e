package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/repo-capture-engine/internal/config"
	"github.com/JakeFAU/repo-capture-engine/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the capture engine service",
		Long: `Starts the HTTP API, the worker pool and the background schedulers,
then blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
