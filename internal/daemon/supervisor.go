package daemon

import (
	"context"
	"errors"
	"sync"

	"firestige.xyz/rtpscope/internal/capture"
	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/hub"
	"firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/metrics"
	"firestige.xyz/rtpscope/internal/pipeline"
)

// SessionEnd reports a capture session that ended on its own, either at
// the end of a file or through a capture error. Err is nil at end of file.
type SessionEnd struct {
	Source core.Source
	Err    error
}

type openFunc func(core.Source, capture.Options) (capture.Capturer, error)

// Supervisor runs at most one capture session at a time and feeds it into
// the hub. Switching sources stops the running session, clears the hub and
// starts the next one.
type Supervisor struct {
	opts   capture.Options
	hub    *hub.Hub
	logger log.Logger
	open   openFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	current core.Source
	stopped bool

	ended chan SessionEnd
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(opts capture.Options, h *hub.Hub, logger log.Logger) *Supervisor {
	return &Supervisor{
		opts:   opts,
		hub:    h,
		logger: logger,
		open:   capture.Open,
		ended:  make(chan SessionEnd, 1),
	}
}

// Ended delivers sessions that ended without being stopped.
func (s *Supervisor) Ended() <-chan SessionEnd {
	return s.ended
}

// Current returns the source of the most recent session, and false when
// no session was ever started or the last one was stopped.
func (s *Supervisor) Current() (core.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.done != nil
}

// Switch replaces the running session with one reading src. The hub is
// reset in between so viewers never mix packets of two sources.
func (s *Supervisor) Switch(src core.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.stopLocked()
	s.hub.Reset()

	logger := s.logger.WithField("source", src.String())
	c, err := s.open(src, s.opts)
	if err != nil {
		metrics.CaptureSessionsTotal.WithLabelValues("open_failed").Inc()
		logger.WithError(err).Error("failed to open capture source")
		s.notify(SessionEnd{Source: src, Err: err})
		return
	}

	p, err := pipeline.New(pipeline.Config{Source: src, Capturer: c, Sink: s.hub, Logger: s.logger})
	if err != nil {
		c.Close()
		metrics.CaptureSessionsTotal.WithLabelValues("open_failed").Inc()
		logger.WithError(err).Error("unsupported capture source")
		s.notify(SessionEnd{Source: src, Err: err})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done, s.current = cancel, done, src

	go func() {
		defer close(done)
		defer c.Close()
		err := p.Run(ctx)
		if errors.Is(err, core.ErrCaptureStopped) {
			return
		}
		s.notify(SessionEnd{Source: src, Err: err})
	}()
}

// Stop ends the running session and refuses further switches.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

func (s *Supervisor) notify(end SessionEnd) {
	select {
	case s.ended <- end:
	default:
	}
}
