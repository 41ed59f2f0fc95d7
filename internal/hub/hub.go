// Package hub holds the authoritative packet log and keeps every connected
// viewer synchronized with it.
package hub

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/metrics"
	"firestige.xyz/rtpscope/internal/parser"
	"firestige.xyz/rtpscope/internal/parser/rtp"
	"firestige.xyz/rtpscope/internal/wire"
)

// Observer receives every change to the packet log, in log order.
// Calls are made with the log lock held and must not call back into the hub.
type Observer interface {
	OnPacket(pkt core.Packet)
	OnSdp(key core.StreamKey, sdp core.Sdp)
	OnReset()
}

// Options configures a Hub.
type Options struct {
	// Sources lists the capture sources offered to a viewer on connect.
	Sources func() []core.Source
	// ChangeSource is invoked when a viewer asks for another capture source.
	ChangeSource func(core.Source)
	// Observer, when set, mirrors the packet log.
	Observer Observer
}

// Hub owns the packet log and the set of connected viewers.
//
// Lock order: mu (log) before viewersMu.
type Hub struct {
	logger log.Logger
	opts   Options

	mu      sync.RWMutex
	packets []core.Packet
	index   map[uint64]int
	sdps    map[core.StreamKey]core.Sdp

	viewersMu  sync.Mutex
	viewers    map[uint64]*viewer
	nextViewer uint64
}

// New creates an empty hub.
func New(logger log.Logger, opts Options) *Hub {
	return &Hub{
		logger:  logger,
		opts:    opts,
		index:   make(map[uint64]int),
		sdps:    make(map[core.StreamKey]core.Sdp),
		viewers: make(map[uint64]*viewer),
	}
}

// Append adds a packet to the log and forwards it to every viewer.
// A packet whose id is already logged replaces the earlier one.
func (h *Hub) Append(pkt core.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i, ok := h.index[pkt.ID]; ok {
		h.packets[i] = pkt
	} else {
		h.index[pkt.ID] = len(h.packets)
		h.packets = append(h.packets, pkt)
		metrics.PacketLogSize.Set(float64(len(h.packets)))
	}

	if h.opts.Observer != nil {
		h.opts.Observer.OnPacket(pkt)
	}
	h.broadcast(wire.PacketResponse{Packet: pkt})
}

// Reparse forces the classification of a logged packet and rebroadcasts it.
func (h *Hub) Reparse(id uint64, proto core.SessionProtocol) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, ok := h.index[id]
	if !ok {
		metrics.ReparseTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: id %d", core.ErrPacketNotFound, id)
	}

	pkt := h.packets[i]
	if !parser.Reparse(&pkt, proto) {
		metrics.ReparseTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("reparse packet %d as %s: payload does not decode", id, proto)
	}
	h.packets[i] = pkt
	metrics.ReparseTotal.WithLabelValues("applied").Inc()

	if h.opts.Observer != nil {
		h.opts.Observer.OnPacket(pkt)
	}
	h.broadcast(wire.PacketResponse{Packet: pkt})
	return nil
}

// SetSdp attaches a session description to a stream and broadcasts the
// resulting payload type map.
func (h *Hub) SetSdp(key core.StreamKey, text string) error {
	sdp, err := rtp.ParseSdp(text)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sdps[key] = sdp
	if h.opts.Observer != nil {
		h.opts.Observer.OnSdp(key, sdp)
	}
	h.broadcast(wire.SdpResponse{Key: key, Sdp: sdp})
	return nil
}

// Reset empties the log and tells every viewer to do the same.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.packets = nil
	h.index = make(map[uint64]int)
	h.sdps = make(map[core.StreamKey]core.Sdp)
	metrics.PacketLogSize.Set(0)

	if h.opts.Observer != nil {
		h.opts.Observer.OnReset()
	}
	h.broadcast(wire.ResetResponse{})
}

// Len returns the number of logged packets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.packets)
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.viewersMu.Lock()
	defer h.viewersMu.Unlock()
	return len(h.viewers)
}

// Serve runs one viewer session over conn until the peer disconnects,
// a framing error occurs or ctx is cancelled. conn is closed on return.
func (h *Hub) Serve(ctx context.Context, conn io.ReadWriteCloser) {
	var sources []core.Source
	if h.opts.Sources != nil {
		sources = h.opts.Sources()
	}

	ctx, cancel := context.WithCancel(ctx)
	v := h.connect(ctx, cancel, conn, sources)
	defer h.disconnect(v)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.writeLoop()
	}()

	v.readLoop(h)
	cancel()
	<-done
}

// connect registers the viewer and queues its initial snapshot. Holding the
// read lock across both keeps appends from slipping between them.
func (h *Hub) connect(ctx context.Context, cancel context.CancelFunc, conn io.ReadWriteCloser, sources []core.Source) *viewer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.viewersMu.Lock()
	id := h.nextViewer
	h.nextViewer++
	v := newViewer(ctx, cancel, id, conn, h.logger.WithField("viewer", id))
	h.viewers[id] = v
	metrics.ViewersConnected.Set(float64(len(h.viewers)))
	h.viewersMu.Unlock()

	snapshot := make([]wire.Response, 0, 1+len(h.sdps)+len(h.packets))
	snapshot = append(snapshot, wire.SourcesResponse{Sources: sources})
	snapshot = append(snapshot, h.sdpResponses()...)
	snapshot = append(snapshot, h.packetResponses()...)
	v.out.push(snapshot...)

	v.logger.WithField("packets", len(h.packets)).Info("viewer connected")
	return v
}

func (h *Hub) disconnect(v *viewer) {
	h.viewersMu.Lock()
	delete(h.viewers, v.id)
	metrics.ViewersConnected.Set(float64(len(h.viewers)))
	h.viewersMu.Unlock()

	if n := v.out.len(); n > 0 {
		metrics.SendFailuresTotal.Add(float64(n))
	}
	v.logger.Info("viewer disconnected")
}

// fetchAll queues the whole log for one viewer.
func (h *Hub) fetchAll(v *viewer) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v.out.push(h.packetResponses()...)
}

func (h *Hub) handle(v *viewer, req wire.Request) {
	switch r := req.(type) {
	case wire.FetchAllRequest:
		h.fetchAll(v)
	case wire.ReparseRequest:
		if err := h.Reparse(r.PacketID, r.Protocol); err != nil {
			v.logger.WithError(err).Warn("reparse ignored")
		}
	case wire.ChangeSourceRequest:
		if h.opts.ChangeSource == nil {
			v.logger.WithField("source", r.Source.String()).Warn("source change not supported")
			return
		}
		h.opts.ChangeSource(r.Source)
	case wire.SetSdpRequest:
		if err := h.SetSdp(r.Key, r.Sdp); err != nil {
			v.logger.WithError(err).Warn("sdp ignored")
		}
	}
}

// broadcast queues resp for every viewer. Caller holds mu.
func (h *Hub) broadcast(resp wire.Response) {
	h.viewersMu.Lock()
	defer h.viewersMu.Unlock()
	for _, v := range h.viewers {
		v.out.push(resp)
	}
}

func (h *Hub) packetResponses() []wire.Response {
	out := make([]wire.Response, len(h.packets))
	for i := range h.packets {
		out[i] = wire.PacketResponse{Packet: h.packets[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].(wire.PacketResponse).Packet.ID < out[j].(wire.PacketResponse).Packet.ID
	})
	return out
}

func (h *Hub) sdpResponses() []wire.Response {
	out := make([]wire.Response, 0, len(h.sdps))
	for k, s := range h.sdps {
		out = append(out, wire.SdpResponse{Key: k, Sdp: s})
	}
	return out
}
