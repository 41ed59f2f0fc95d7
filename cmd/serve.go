package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/rtpscope/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rtpscope server in foreground",
	Long: `Run the rtpscope server in foreground.

The server will:
  1. Load configuration and initialize logging
  2. Start the metrics and stream API HTTP server (if enabled)
  3. Accept viewer connections on server.listen
  4. Open the configured capture source, or wait for a viewer to pick one
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			exitWithError("server failed", err)
		}
	},
}

func runServe() error {
	d, err := daemon.New(configFile)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Blocks until shutdown
	return d.Run()
}
