package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/rtpscope/internal/capture"
	"firestige.xyz/rtpscope/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List capture sources",
	Long: `List the network interfaces of this host and the capture files
(*.pcap, *.pcapng) found in the captures directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSourcesCommand()
	},
}

var sourcesDir string

func init() {
	sourcesCmd.Flags().StringVarP(&sourcesDir, "dir", "d", "",
		"captures directory (default: capture.captures_dir from config)")
}

func runSourcesCommand() {
	dir := sourcesDir
	if dir == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		dir = cfg.Capture.CapturesDir
	}

	sources, err := capture.ListSources(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	for _, s := range sources {
		fmt.Println(s.String())
	}
}
