package cmd

import (
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the companion: channels, daemon, and all providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

// runServe is implemented in serve_run.go, wired once the store, memory,
// orchestrator, trigger engine, and channel packages exist.
