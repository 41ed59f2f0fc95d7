// Package main is the entry point for the rtpscope RTP/RTCP analysis server and viewer.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/rtpscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
