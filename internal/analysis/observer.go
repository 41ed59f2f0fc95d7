// Package analysis keeps a server-side flow registry in step with the hub's
// packet log and exposes it over HTTP and as Prometheus gauges.
package analysis

import (
	"fmt"
	"sync"

	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/flow"
	"firestige.xyz/rtpscope/internal/metrics"
)

// Observer mirrors the hub's packet log into a flow registry.
type Observer struct {
	mu       sync.Mutex
	registry *flow.Registry
}

// New creates an empty observer.
func New() *Observer {
	return &Observer{registry: flow.NewRegistry()}
}

// OnPacket adds or replaces a logged packet.
func (o *Observer) OnPacket(pkt core.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registry.AddPacket(pkt)
}

// OnSdp attaches a payload type map to a stream.
func (o *Observer) OnSdp(key core.StreamKey, sdp core.Sdp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registry.SetSdp(key, sdp)
}

// OnReset drops every stream and its gauges.
func (o *Observer) OnReset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registry.Clear()
	metrics.StreamJitterSeconds.Reset()
	metrics.StreamLossPercent.Reset()
	metrics.StreamsTracked.Set(0)
}

// StreamView is the JSON form of one stream.
type StreamView struct {
	Alias       string     `json:"alias"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Transport   string     `json:"transport"`
	SSRC        string     `json:"ssrc"`
	CNAME       string     `json:"cname,omitempty"`
	RtpPackets  int        `json:"rtp_packets"`
	RtcpRecords []string   `json:"rtcp_records,omitempty"`
	Stats       flow.Stats `json:"stats"`
}

func newStreamView(s *flow.Stream) StreamView {
	v := StreamView{
		Alias:       s.Alias,
		Source:      s.Key.Source.String(),
		Destination: s.Key.Destination.String(),
		Transport:   s.Key.Transport.String(),
		SSRC:        fmt.Sprintf("0x%08X", s.Key.SSRC),
		CNAME:       s.CNAME,
		RtpPackets:  len(s.RtpRefs),
		Stats:       s.Stats(),
	}
	for _, ref := range s.RtcpRefs {
		v.RtcpRecords = append(v.RtcpRecords, ref.Label())
	}
	return v
}

// Streams returns every stream in creation order.
func (o *Observer) Streams() []StreamView {
	o.mu.Lock()
	defer o.mu.Unlock()

	streams := o.registry.Streams()
	views := make([]StreamView, 0, len(streams))
	for _, s := range streams {
		views = append(views, newStreamView(s))
	}
	return views
}

// Stream returns the stream with the given alias.
func (o *Observer) Stream(alias string) (StreamView, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, s := range o.registry.Streams() {
		if s.Alias == alias {
			return newStreamView(s), true
		}
	}
	return StreamView{}, false
}

// Refresh replaces the per-stream gauges with the current streams. Aliases
// can move when the registry rebuilds, so series are cleared first.
func (o *Observer) Refresh() {
	o.mu.Lock()
	defer o.mu.Unlock()

	streams := o.registry.Streams()
	metrics.StreamsTracked.Set(float64(len(streams)))
	metrics.StreamJitterSeconds.Reset()
	metrics.StreamLossPercent.Reset()
	for _, s := range streams {
		st := s.Stats()
		metrics.StreamJitterSeconds.WithLabelValues(s.Alias).Set(st.Jitter)
		metrics.StreamLossPercent.WithLabelValues(s.Alias).Set(st.LossPercent)
	}
}
