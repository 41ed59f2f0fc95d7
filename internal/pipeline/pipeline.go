// Package pipeline turns captured frames into classified packets and hands
// them to the sync hub.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/rtpscope/internal/capture"
	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/core/decoder"
	"firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/metrics"
	"firestige.xyz/rtpscope/internal/parser"
)

// Sink receives packets in id order.
type Sink interface {
	Append(pkt core.Packet)
}

// Pipeline is a single-threaded capture → decode → classify chain for one
// capture session. Packet ids start at 0 for every session.
type Pipeline struct {
	source   core.Source
	capturer capture.Capturer
	decoder  *decoder.Decoder
	sink     Sink
	logger   log.Logger
	metrics  *Metrics

	nextID  uint64
	start   time.Time
	started bool
}

// Config contains pipeline configuration.
type Config struct {
	Source   core.Source
	Capturer capture.Capturer
	Sink     Sink
	Logger   log.Logger
}

// New creates a pipeline for an opened capturer.
func New(cfg Config) (*Pipeline, error) {
	dec, err := decoder.New(cfg.Capturer.LinkType())
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Pipeline{
		source:   cfg.Source,
		capturer: cfg.Capturer,
		decoder:  dec,
		sink:     cfg.Sink,
		logger:   logger.WithField("source", cfg.Source.String()),
		metrics:  &Metrics{},
	}, nil
}

// Run reads frames until the end of the stream, a capture error or ctx is
// cancelled. It returns nil at the end of the stream and
// core.ErrCaptureStopped after cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.WithField("link_type", p.capturer.LinkType().String()).Info("capture started")

	for {
		if ctx.Err() != nil {
			return p.finish("stopped", core.ErrCaptureStopped)
		}

		frame, err := p.capturer.Next()
		switch {
		case err == nil:
			p.process(frame)
		case errors.Is(err, capture.ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			return p.finish("eof", nil)
		case ctx.Err() != nil:
			return p.finish("stopped", core.ErrCaptureStopped)
		default:
			p.logger.WithError(err).Error("capture failed")
			return p.finish("error", fmt.Errorf("capture read failed: %w", err))
		}
	}
}

func (p *Pipeline) finish(reason string, err error) error {
	metrics.CaptureSessionsTotal.WithLabelValues(reason).Inc()
	s := p.Stats()
	p.logger.WithFields(map[string]interface{}{
		"reason":        reason,
		"received":      s.Received,
		"decoded":       s.Decoded,
		"decode_errors": s.DecodeErrors,
	}).Info("capture ended")
	return err
}

func (p *Pipeline) process(frame capture.Frame) {
	p.metrics.Received.Add(1)
	metrics.CaptureFramesTotal.WithLabelValues(p.source.String()).Inc()

	if !p.started {
		p.start = frame.Timestamp
		p.started = true
	}
	ts := frame.Timestamp.Sub(p.start)
	if ts < 0 {
		ts = 0
	}

	pkt, ok := p.decoder.Decode(frame.Data, frame.Length, ts, p.nextID)
	if !ok {
		p.metrics.DecodeErrors.Add(1)
		metrics.DecodeFailuresTotal.WithLabelValues("frame").Inc()
		if p.logger.IsTraceEnabled() {
			p.logger.WithFields(map[string]interface{}{
				"length":   frame.Length,
				"captured": len(frame.Data),
			}).Trace("frame skipped, no TCP/UDP over IP")
		}
		return
	}
	p.nextID++
	p.metrics.Decoded.Add(1)

	proto := parser.Classify(&pkt)
	p.metrics.count(proto)
	metrics.PacketsClassifiedTotal.WithLabelValues(proto.String()).Inc()

	p.sink.Append(pkt)
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:     p.metrics.Received.Load(),
		Decoded:      p.metrics.Decoded.Load(),
		DecodeErrors: p.metrics.DecodeErrors.Load(),
		RTP:          p.metrics.RTP.Load(),
		RTCP:         p.metrics.RTCP.Load(),
		Unknown:      p.metrics.Unknown.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received     uint64
	Decoded      uint64
	DecodeErrors uint64
	RTP          uint64
	RTCP         uint64
	Unknown      uint64
}
