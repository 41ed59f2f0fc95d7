package pipeline

import (
	"sync/atomic"

	"firestige.xyz/rtpscope/internal/core"
)

// Metrics contains per-session counters. They are read from other
// goroutines while the pipeline runs.
type Metrics struct {
	Received     atomic.Uint64
	Decoded      atomic.Uint64
	DecodeErrors atomic.Uint64
	RTP          atomic.Uint64
	RTCP         atomic.Uint64
	Unknown      atomic.Uint64
}

func (m *Metrics) count(proto core.SessionProtocol) {
	switch proto {
	case core.SessionRTP:
		m.RTP.Add(1)
	case core.SessionRTCP:
		m.RTCP.Add(1)
	default:
		m.Unknown.Add(1)
	}
}
