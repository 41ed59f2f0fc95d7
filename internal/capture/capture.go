// Package capture opens live interfaces and capture files and yields raw
// link-layer frames.
package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/rtpscope/internal/config"
	"firestige.xyz/rtpscope/internal/core"
)

// ErrTimeout is returned by Next when a live source had nothing to deliver
// within its read timeout. Callers retry.
var ErrTimeout = errors.New("capture: read timeout")

// Frame is one captured link-layer frame.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Length    uint32 // original on-wire length
}

// Capturer yields frames until io.EOF (end of a file) or a fatal error.
type Capturer interface {
	Next() (Frame, error)
	LinkType() layers.LinkType
	Close() error
}

// Options controls how a source is opened.
type Options struct {
	Engine      string // pcap | afpacket, live sources only
	SnapLen     int
	Promiscuous bool
	BPFFilter   string
	ReadTimeout time.Duration
	BufferMB    int
}

// OptionsFromConfig extracts capture options from the configuration.
func OptionsFromConfig(cfg config.CaptureConfig) Options {
	return Options{
		Engine:      cfg.Engine,
		SnapLen:     cfg.SnapLen,
		Promiscuous: cfg.Promiscuous,
		BPFFilter:   cfg.BPFFilter,
		ReadTimeout: cfg.ReadTimeout,
		BufferMB:    cfg.BufferMB,
	}
}

func (o *Options) applyDefaults() {
	if o.SnapLen <= 0 {
		o.SnapLen = 65535
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 100 * time.Millisecond
	}
	if o.BufferMB <= 0 {
		o.BufferMB = 8
	}
}

// Open opens src. Failures wrap core.ErrSourceUnavailable.
func Open(src core.Source, opts Options) (Capturer, error) {
	opts.applyDefaults()

	var (
		c   Capturer
		err error
	)
	switch {
	case src.Kind == core.SourceFile:
		c, err = openFile(src.Name, opts)
	case opts.Engine == "afpacket":
		c, err = openAFPacket(src.Name, opts)
	default:
		c, err = openLive(src.Name, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrSourceUnavailable, src, err)
	}
	return c, nil
}
