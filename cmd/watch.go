package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/flow"
	"firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/viewer"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a server and print its streams",
	Long: `Connect to an rtpscope server as a viewer and print the stream table at a
fixed interval. Optionally switch the server's capture source, reclassify
packets or attach an SDP description to a stream once connected.

Examples:
  rtpscope watch --server 10.0.0.5:7373
  rtpscope watch --source file:captures/call.pcapng --count 1
  rtpscope watch --reparse 42:rtp --reparse 43:rtcp
  rtpscope watch --sdp offer.sdp --stream A`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWatch(cmd.Context()); err != nil {
			exitWithError("watch failed", err)
		}
	},
}

var (
	watchServer   string
	watchInterval time.Duration
	watchCount    int
	watchSource   string
	watchReparse  []string
	watchSdpFile  string
	watchStream   string
)

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "127.0.0.1:7373", "server address")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Second, "refresh interval")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "number of refreshes before exiting (0 = until interrupted)")
	watchCmd.Flags().StringVar(&watchSource, "source", "", "switch the capture source (interface name, or file:<path>)")
	watchCmd.Flags().StringSliceVar(&watchReparse, "reparse", nil, "reclassify a packet, as <id>:<rtp|rtcp|unknown>")
	watchCmd.Flags().StringVar(&watchSdpFile, "sdp", "", "SDP file to attach to --stream")
	watchCmd.Flags().StringVar(&watchStream, "stream", "", "stream alias the --sdp file describes")
}

func runWatch(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := viewer.Dial(ctx, watchServer, 5*time.Second, log.GetLogger())
	if err != nil {
		return err
	}
	defer c.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	if watchSource != "" {
		if err := c.ChangeSource(parseSource(watchSource)); err != nil {
			return fmt.Errorf("failed to request source change: %w", err)
		}
	}
	for _, arg := range watchReparse {
		id, proto, err := parseReparse(arg)
		if err != nil {
			return err
		}
		if err := c.Reparse(id, proto); err != nil {
			return fmt.Errorf("failed to request reparse: %w", err)
		}
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	sdpSent := watchSdpFile == ""
	for n := 0; watchCount == 0 || n < watchCount; {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err != nil {
				return err
			}
			fmt.Println("server closed the connection")
			return nil
		case <-ticker.C:
		}
		n++

		if !sdpSent {
			sent, err := sendSdp(c, watchStream, watchSdpFile)
			if err != nil {
				return err
			}
			sdpSent = sent
		}

		c.View(func(r *flow.Registry) {
			fmt.Printf("%s  packets=%d streams=%d\n", time.Now().Format("15:04:05"), r.Len(), len(r.Streams()))
			renderStreams(os.Stdout, r.Streams())
			fmt.Println()
		})
	}
	return nil
}

// sendSdp attaches the SDP file to the stream with the given alias once the
// stream is known locally. It reports whether the request was sent.
func sendSdp(c *viewer.Client, alias, path string) (bool, error) {
	if alias == "" {
		return false, fmt.Errorf("--sdp requires --stream")
	}
	var (
		key   core.StreamKey
		found bool
	)
	c.View(func(r *flow.Registry) {
		for _, s := range r.Streams() {
			if s.Alias == alias {
				key, found = s.Key, true
				return
			}
		}
	})
	if !found {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read sdp file: %w", err)
	}
	if err := c.SetSdp(key, string(data)); err != nil {
		return false, fmt.Errorf("failed to send sdp: %w", err)
	}
	return true, nil
}

// parseSource reads "file:<path>", "interface:<name>" or a bare interface name.
func parseSource(s string) core.Source {
	if kind, name, ok := strings.Cut(s, ":"); ok {
		switch kind {
		case "file":
			return core.Source{Kind: core.SourceFile, Name: name}
		case "interface":
			return core.Source{Kind: core.SourceInterface, Name: name}
		}
	}
	return core.Source{Kind: core.SourceInterface, Name: s}
}

// parseReparse reads "<id>:<protocol>".
func parseReparse(s string) (uint64, core.SessionProtocol, error) {
	idText, protoText, ok := strings.Cut(s, ":")
	if !ok {
		return 0, core.SessionUnknown, fmt.Errorf("invalid reparse %q, want <id>:<protocol>", s)
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return 0, core.SessionUnknown, fmt.Errorf("invalid packet id %q: %w", idText, err)
	}
	proto, err := core.ParseSessionProtocol(protoText)
	if err != nil {
		return 0, core.SessionUnknown, err
	}
	return id, proto, nil
}

func renderStreams(w io.Writer, streams []*flow.Stream) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tSOURCE\tDESTINATION\tSSRC\tPT\tPACKETS\tLOST\tLOSS%\tJITTER ms\tMAX ms\tMEAN ms\tKBIT/S\tRTCP\tCNAME")
	for _, s := range streams {
		st := s.Stats()
		fmt.Fprintf(tw, "%s\t%s\t%s\t0x%08X\t%d\t%d\t%d\t%.1f\t%.3f\t%.3f\t%.3f\t%.1f\t%d\t%s\n",
			s.Alias,
			s.Key.Source,
			s.Key.Destination,
			s.Key.SSRC,
			st.PayloadType,
			st.Packets,
			st.Lost,
			st.LossPercent,
			st.Jitter*1000,
			st.MaxJitter*1000,
			st.MeanJitter*1000,
			st.Bitrate/1000,
			st.RtcpRecords,
			s.CNAME,
		)
	}
	tw.Flush()
}
