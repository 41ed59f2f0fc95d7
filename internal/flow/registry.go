// Package flow groups decoded packets into media streams and derives their
// statistics.
//
// A Registry is a pure function of the packets added to it and of the SDP
// payload maps attached to it: appending packets in id order updates streams
// incrementally, while any out-of-order change (a reclassified packet
// re-delivered under an existing id) marks the streams stale. Stale streams
// are rebuilt from the whole log once, on the next read.
package flow

import (
	"slices"

	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/parser/rtp"
)

// Registry maps flow keys to streams. It is owned by a single observer and
// is not safe for concurrent use.
type Registry struct {
	packets map[uint64]core.Packet
	ids     []uint64 // sorted

	streams map[core.StreamKey]*Stream
	order   []*Stream
	sdps    map[core.StreamKey]core.Sdp

	dirty    bool
	rebuilds int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		packets: make(map[uint64]core.Packet),
		streams: make(map[core.StreamKey]*Stream),
		sdps:    make(map[core.StreamKey]core.Sdp),
	}
}

// AddPacket records pkt in the log. A packet whose id exceeds every id seen
// is applied incrementally; otherwise it replaces or fills in its slot and
// the streams are rebuilt from the log on the next read. Any number of
// out-of-order packets between two reads costs a single rebuild.
func (r *Registry) AddPacket(pkt core.Packet) {
	pkt.Payload = nil

	if n := len(r.ids); n == 0 || pkt.ID > r.ids[n-1] {
		r.packets[pkt.ID] = pkt
		r.ids = append(r.ids, pkt.ID)
		if !r.dirty {
			r.apply(&pkt)
		}
		return
	}

	if _, exists := r.packets[pkt.ID]; !exists {
		i, _ := slices.BinarySearch(r.ids, pkt.ID)
		r.ids = slices.Insert(r.ids, i, pkt.ID)
	}
	r.packets[pkt.ID] = pkt
	r.dirty = true
}

// SetSdp attaches a payload type map to key. Negotiated clock rates change
// jitter, so the streams are rebuilt on the next read.
func (r *Registry) SetSdp(key core.StreamKey, sdp core.Sdp) {
	r.sdps[key] = sdp
	r.dirty = true
}

// Sdp returns the payload type map attached to key.
func (r *Registry) Sdp(key core.StreamKey) (core.Sdp, bool) {
	sdp, ok := r.sdps[key]
	return sdp, ok
}

// Clear drops the packet log, every stream and every SDP map.
func (r *Registry) Clear() {
	r.packets = make(map[uint64]core.Packet)
	r.ids = nil
	r.sdps = make(map[core.StreamKey]core.Sdp)
	r.resetStreams()
}

// ClearPackets drops the packet log and every stream but keeps SDP maps.
func (r *Registry) ClearPackets() {
	r.packets = make(map[uint64]core.Packet)
	r.ids = nil
	r.resetStreams()
}

// Streams returns the streams in creation order.
func (r *Registry) Streams() []*Stream {
	r.sync()
	return r.order
}

// Stream returns the stream for key.
func (r *Registry) Stream(key core.StreamKey) (*Stream, bool) {
	r.sync()
	s, ok := r.streams[key]
	return s, ok
}

// Packet returns the logged packet with the given id.
func (r *Registry) Packet(id uint64) (core.Packet, bool) {
	pkt, ok := r.packets[id]
	return pkt, ok
}

// Len returns the number of logged packets.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Rebuilds returns how many full replays have happened.
func (r *Registry) Rebuilds() int {
	r.sync()
	return r.rebuilds
}

func (r *Registry) resetStreams() {
	r.streams = make(map[core.StreamKey]*Stream)
	r.order = nil
	r.dirty = false
}

// sync rebuilds stale streams.
func (r *Registry) sync() {
	if r.dirty {
		r.rebuild()
	}
}

// rebuild replays the log in id order. It costs O(n) and runs only when
// history changed.
func (r *Registry) rebuild() {
	r.rebuilds++
	r.resetStreams()
	for _, id := range r.ids {
		pkt := r.packets[id]
		r.apply(&pkt)
	}
}

func (r *Registry) apply(pkt *core.Packet) {
	switch pkt.Session {
	case core.SessionRTP:
		if h, ok := pkt.RTP(); ok {
			r.applyRTP(pkt, h)
		}
	case core.SessionRTCP:
		if records, ok := pkt.RTCP(); ok {
			r.applyRTCP(pkt, records)
		}
	}
}

func (r *Registry) applyRTP(pkt *core.Packet, h *core.RtpPacket) {
	key := core.StreamKey{
		Source:      pkt.Source,
		Destination: pkt.Destination,
		Transport:   pkt.Transport,
		SSRC:        h.SSRC,
	}

	s, ok := r.streams[key]
	if !ok {
		s = newStream(key, Alias(len(r.order)))
		r.streams[key] = s
		r.order = append(r.order, s)
	}

	var sdp *core.Sdp
	if m, ok := r.sdps[key]; ok {
		sdp = &m
	}
	rate, defined := rtp.ResolveClockRate(sdp, h.PayloadType)
	s.addRTP(pkt, h, rate, defined)
}

func (r *Registry) applyRTCP(pkt *core.Packet, records core.RtcpCompound) {
	for i, record := range records {
		ref := RtcpRef{PacketID: pkt.ID, Index: i, Record: record}

		var attached []*Stream
		for _, ssrc := range rtp.RecordSSRCs(record) {
			s, ok := r.resolve(core.StreamKey{
				Source:      pkt.Source,
				Destination: pkt.Destination,
				Transport:   pkt.Transport,
				SSRC:        ssrc,
			})
			if !ok {
				continue
			}

			if sdes, isSDES := record.(core.SourceDescription); isSDES {
				for _, chunk := range sdes.Chunks {
					if chunk.Source != ssrc {
						continue
					}
					if cname, ok := chunk.CNAME(); ok {
						s.CNAME = cname
					}
				}
			}

			if !slices.Contains(attached, s) {
				attached = append(attached, s)
				s.addRTCP(ref)
			}
		}
	}
}

// resolve looks key up as-is, then with both ports moved down by one.
func (r *Registry) resolve(key core.StreamKey) (*Stream, bool) {
	if s, ok := r.streams[key]; ok {
		return s, true
	}
	s, ok := r.streams[key.PortShifted()]
	return s, ok
}
