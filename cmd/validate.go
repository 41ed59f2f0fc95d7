package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/rtpscope/internal/capture"
	"firestige.xyz/rtpscope/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration (file, .env and environment) without
starting the server. The capture BPF filter is compiled as part of the check.

Examples:
  rtpscope validate -c /etc/rtpscope/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func runValidateCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	if err := capture.ValidateFilter(cfg.Capture.BPFFilter); err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	source := "none"
	if src, ok := cfg.Capture.Source.Descriptor(); ok {
		source = src.String()
	}
	fmt.Printf("VALID: listen %s, source %s, engine %s, filter %q\n",
		cfg.Server.Listen, source, cfg.Capture.Engine, cfg.Capture.BPFFilter)
}
