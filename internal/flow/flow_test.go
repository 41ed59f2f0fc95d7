package flow

import (
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rtpscope/internal/core"
)

var (
	addrA = netip.MustParseAddr("10.0.0.1")
	addrB = netip.MustParseAddr("10.0.0.2")
)

func ep(addr netip.Addr, port uint16) core.Endpoint {
	return core.Endpoint{Addr: addr, Port: port}
}

func rtpPacket(id uint64, at time.Duration, src, dst core.Endpoint, ssrc uint32, pt uint8, seq uint16, ts uint32) core.Packet {
	return core.Packet{
		ID:          id,
		Timestamp:   at,
		Length:      214,
		Source:      src,
		Destination: dst,
		Transport:   core.TransportUDP,
		Session:     core.SessionRTP,
		Contents: &core.RtpPacket{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
			PayloadLength:  160,
		},
	}
}

func rtcpPacket(id uint64, src, dst core.Endpoint, records ...core.RtcpRecord) core.Packet {
	return core.Packet{
		ID:          id,
		Length:      90,
		Source:      src,
		Destination: dst,
		Transport:   core.TransportUDP,
		Session:     core.SessionRTCP,
		Contents:    core.RtcpCompound(records),
	}
}

func TestJitterReferenceValues(t *testing.T) {
	r := NewRegistry()
	src, dst := ep(addrA, 4000), ep(addrB, 5000)

	r.AddPacket(rtpPacket(0, 348411*time.Microsecond, src, dst, 1, 8, 1, 1240))
	s := r.Streams()[0]
	assert.Equal(t, 0.0, s.Jitter())

	r.AddPacket(rtpPacket(1, 418358*time.Microsecond, src, dst, 1, 8, 2, 1400))
	assert.InDelta(t, 0.0031216875, s.Jitter(), 1e-9)

	r.AddPacket(rtpPacket(2, 421891*time.Microsecond, src, dst, 1, 8, 3, 1560))
	assert.InDelta(t, 0.00189739453125, s.Jitter(), 1e-9)

	st := s.Stats()
	assert.InDelta(t, 0.0031216875, st.MaxJitter, 1e-9)
	assert.InDelta(t, (0.0031216875+0.00189739453125)/2, st.MeanJitter, 1e-9)
}

func TestJitterResets(t *testing.T) {
	src, dst := ep(addrA, 4000), ep(addrB, 5000)

	t.Run("payload type change", func(t *testing.T) {
		r := NewRegistry()
		r.AddPacket(rtpPacket(0, 0, src, dst, 1, 8, 1, 0))
		r.AddPacket(rtpPacket(1, 70*time.Millisecond, src, dst, 1, 8, 2, 160))
		require.NotZero(t, r.Streams()[0].Jitter())

		r.AddPacket(rtpPacket(2, 90*time.Millisecond, src, dst, 1, 0, 3, 320))
		assert.Equal(t, 0.0, r.Streams()[0].Jitter())
	})

	t.Run("undefined clock rate", func(t *testing.T) {
		r := NewRegistry()
		r.AddPacket(rtpPacket(0, 0, src, dst, 1, 8, 1, 0))
		r.AddPacket(rtpPacket(1, 70*time.Millisecond, src, dst, 1, 8, 2, 160))
		require.NotZero(t, r.Streams()[0].Jitter())

		r.AddPacket(rtpPacket(2, 90*time.Millisecond, src, dst, 1, 19, 3, 320))
		assert.Equal(t, 0.0, r.Streams()[0].Jitter())
		r.AddPacket(rtpPacket(3, 150*time.Millisecond, src, dst, 1, 19, 4, 480))
		assert.Equal(t, 0.0, r.Streams()[0].Jitter())
	})
}

func TestJitterUsesNegotiatedClockRate(t *testing.T) {
	r := NewRegistry()
	src, dst := ep(addrA, 4000), ep(addrB, 5000)
	key := core.StreamKey{Source: src, Destination: dst, Transport: core.TransportUDP, SSRC: 7}

	r.AddPacket(rtpPacket(0, 0, src, dst, 7, 111, 1, 0))
	r.AddPacket(rtpPacket(1, 40*time.Millisecond, src, dst, 7, 111, 2, 960))
	assert.Equal(t, 0.0, r.Streams()[0].Jitter(), "dynamic type without SDP has no clock rate")

	r.SetSdp(key, core.Sdp{Formats: map[uint8]core.PayloadFormat{111: {Name: "opus", ClockRate: 48000, Channels: 2}}})
	// 40ms arrival against 20ms of media.
	assert.InDelta(t, 0.020/16, r.Streams()[0].Jitter(), 1e-12)
	assert.Equal(t, 1, r.Rebuilds())

	got, ok := r.Sdp(key)
	require.True(t, ok)
	assert.Equal(t, "opus", got.Formats[111].Name)
}

func TestPortShiftCorrelation(t *testing.T) {
	r := NewRegistry()
	const ssrc = 0x5EED
	r.AddPacket(rtpPacket(0, 0, ep(addrA, 5004), ep(addrB, 6004), ssrc, 0, 1, 0))

	r.AddPacket(rtcpPacket(1, ep(addrA, 5005), ep(addrB, 6005),
		core.SenderReport{SSRC: ssrc, NTPTime: 0xc59286ee1ba5e354},
		core.SourceDescription{Chunks: []core.SdesChunk{{
			Source: ssrc,
			Items:  []core.SdesItem{{Type: core.SdesCNAME, Text: "bob@10.0.0.1"}},
		}}},
	))

	require.Len(t, r.Streams(), 1)
	s := r.Streams()[0]
	require.Len(t, s.RtcpRefs, 2)
	assert.Equal(t, "1 (1)", s.RtcpRefs[0].Label())
	assert.Equal(t, "1 (2)", s.RtcpRefs[1].Label())
	assert.Equal(t, "bob@10.0.0.1", s.CNAME)

	st := s.Stats()
	assert.Equal(t, 1, st.SenderReports)
	assert.Equal(t, "2005-01-14 17:59:10.108", st.LastSenderTime)
}

func TestRTCPExactKeyWins(t *testing.T) {
	r := NewRegistry()
	r.AddPacket(rtpPacket(0, 0, ep(addrA, 5004), ep(addrB, 6004), 9, 0, 1, 0))
	r.AddPacket(rtpPacket(1, 0, ep(addrA, 5005), ep(addrB, 6005), 9, 0, 1, 0))

	r.AddPacket(rtcpPacket(2, ep(addrA, 5005), ep(addrB, 6005), core.ReceiverReport{SSRC: 9}))

	assert.Empty(t, r.Streams()[0].RtcpRefs)
	assert.Len(t, r.Streams()[1].RtcpRefs, 1)
}

func TestRTCPCorrelationMiss(t *testing.T) {
	r := NewRegistry()
	r.AddPacket(rtpPacket(0, 0, ep(addrA, 5004), ep(addrB, 6004), 1, 0, 1, 0))

	// Wrong SSRC, ports two apart, and a type that carries no SSRC.
	r.AddPacket(rtcpPacket(1, ep(addrA, 5005), ep(addrB, 6005), core.SenderReport{SSRC: 2}))
	r.AddPacket(rtcpPacket(2, ep(addrA, 5006), ep(addrB, 6006), core.SenderReport{SSRC: 1}))
	r.AddPacket(rtcpPacket(3, ep(addrA, 5005), ep(addrB, 6005), core.Goodbye{Sources: []uint32{1}}))

	require.Len(t, r.Streams(), 1)
	assert.Empty(t, r.Streams()[0].RtcpRefs)
	assert.Equal(t, 4, r.Len())
	_, ok := r.Packet(2)
	assert.True(t, ok, "unmatched records stay in the log")
}

func TestAliasesIgnoreLeadingRTCP(t *testing.T) {
	r := NewRegistry()
	for i := uint64(0); i < 5; i++ {
		r.AddPacket(rtcpPacket(i, ep(addrA, 5005), ep(addrB, 6005), core.ReceiverReport{SSRC: uint32(100 + i)}))
	}
	r.AddPacket(rtpPacket(5, 0, ep(addrA, 5004), ep(addrB, 6004), 1, 0, 1, 0))
	r.AddPacket(rtpPacket(6, 0, ep(addrB, 6004), ep(addrA, 5004), 2, 0, 1, 0))

	streams := r.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, "A", streams[0].Alias)
	assert.Equal(t, "B", streams[1].Alias)
}

func TestAlias(t *testing.T) {
	tests := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for n, want := range tests {
		assert.Equal(t, want, Alias(n), "Alias(%d)", n)
	}
}

// buildLog produces two interleaved bidirectional calls with RTCP.
func buildLog() []core.Packet {
	var log []core.Packet
	id := uint64(0)
	for i := 0; i < 40; i++ {
		at := time.Duration(i) * 20 * time.Millisecond
		jitter := time.Duration(i%3) * time.Millisecond
		seq := uint16(65520 + i)
		ts := uint32(i * 160)

		log = append(log, rtpPacket(id, at+jitter, ep(addrA, 4000), ep(addrB, 5000), 0xA, 8, seq, ts))
		id++
		log = append(log, rtpPacket(id, at, ep(addrB, 5000), ep(addrA, 4000), 0xB, 0, uint16(i), ts))
		id++
		if i%10 == 9 {
			log = append(log, rtcpPacket(id, ep(addrA, 4001), ep(addrB, 5001),
				core.SenderReport{SSRC: 0xA, PacketCount: uint32(i)},
				core.SourceDescription{Chunks: []core.SdesChunk{{Source: 0xA, Items: []core.SdesItem{{Type: core.SdesCNAME, Text: "a"}}}}},
			))
			id++
		}
	}
	return log
}

func TestRebuildMatchesIncremental(t *testing.T) {
	log := buildLog()

	incremental := NewRegistry()
	for _, pkt := range log {
		incremental.AddPacket(pkt)
	}
	require.Zero(t, incremental.Rebuilds())

	shuffled := append([]core.Packet(nil), log...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	rebuilt := NewRegistry()
	for _, pkt := range shuffled {
		rebuilt.AddPacket(pkt)
	}
	require.NotZero(t, rebuilt.Rebuilds())

	assert.Equal(t, incremental.Streams(), rebuilt.Streams())
	assert.Equal(t, incremental.Len(), rebuilt.Len())
}

func TestReplacedPacketRebuilds(t *testing.T) {
	src, dst := ep(addrA, 4000), ep(addrB, 5000)
	r := NewRegistry()
	r.AddPacket(rtpPacket(0, 0, src, dst, 1, 0, 1, 0))
	unknown := rtpPacket(1, 20*time.Millisecond, src, dst, 1, 0, 2, 160)
	unknown.Session, unknown.Contents = core.SessionUnknown, core.Unknown{}
	r.AddPacket(unknown)
	r.AddPacket(rtpPacket(2, 40*time.Millisecond, src, dst, 1, 0, 3, 320))
	require.Equal(t, []uint64{0, 2}, r.Streams()[0].RtpRefs)

	// Reclassification re-delivers id 1 as RTP.
	r.AddPacket(rtpPacket(1, 20*time.Millisecond, src, dst, 1, 0, 2, 160))

	assert.Equal(t, 1, r.Rebuilds())
	assert.Equal(t, []uint64{0, 1, 2}, r.Streams()[0].RtpRefs)
	assert.Equal(t, 3, r.Len())
}

func TestReplayAfterLivePacketRebuildsOnce(t *testing.T) {
	src, dst := ep(addrA, 4000), ep(addrB, 5000)
	const n = 2000
	log := make([]core.Packet, 0, n+1)
	for i := 0; i <= n; i++ {
		log = append(log, rtpPacket(uint64(i), time.Duration(i)*20*time.Millisecond, src, dst, 1, 0, uint16(i), uint32(i*160)))
	}

	want := NewRegistry()
	for _, pkt := range log {
		want.AddPacket(pkt)
	}

	r := NewRegistry()
	for _, pkt := range log[:n] {
		r.AddPacket(pkt)
	}
	r.ClearPackets()

	// A live packet lands before the full log is resent.
	r.AddPacket(log[n])
	for _, pkt := range log {
		r.AddPacket(pkt)
	}

	assert.Equal(t, 1, r.Rebuilds())
	assert.Equal(t, n+1, r.Len())
	assert.Equal(t, want.Streams(), r.Streams())
	assert.Equal(t, 1, r.Rebuilds(), "reads after a rebuild are free")
}

func TestSetSdpDefersRebuild(t *testing.T) {
	src, dst := ep(addrA, 4000), ep(addrB, 5000)
	key := core.StreamKey{Source: src, Destination: dst, Transport: core.TransportUDP, SSRC: 7}
	r := NewRegistry()
	r.AddPacket(rtpPacket(0, 0, src, dst, 7, 111, 1, 0))

	sdp := core.Sdp{Formats: map[uint8]core.PayloadFormat{111: {Name: "opus", ClockRate: 48000}}}
	for i := 0; i < 5; i++ {
		r.SetSdp(key, sdp)
	}
	r.AddPacket(rtpPacket(1, 40*time.Millisecond, src, dst, 7, 111, 2, 960))

	require.Len(t, r.Streams(), 1)
	assert.Equal(t, 1, r.Rebuilds())
	assert.Equal(t, []uint64{0, 1}, r.Streams()[0].RtpRefs)
	assert.InDelta(t, 0.020/16, r.Streams()[0].Jitter(), 1e-12)
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	key := core.StreamKey{SSRC: 1}
	r.AddPacket(rtpPacket(0, 0, ep(addrA, 1), ep(addrB, 2), 1, 0, 1, 0))
	r.SetSdp(key, core.Sdp{})

	r.Clear()

	assert.Empty(t, r.Streams())
	assert.Zero(t, r.Len())
	_, ok := r.Sdp(key)
	assert.False(t, ok)

	r.AddPacket(rtpPacket(0, 0, ep(addrA, 1), ep(addrB, 2), 1, 0, 1, 0))
	assert.Equal(t, "A", r.Streams()[0].Alias, "ids restart after a clear")
}

func TestClearPacketsKeepsSdp(t *testing.T) {
	r := NewRegistry()
	key := core.StreamKey{SSRC: 1}
	r.AddPacket(rtpPacket(0, 0, ep(addrA, 1), ep(addrB, 2), 1, 0, 1, 0))
	r.SetSdp(key, core.Sdp{})

	r.ClearPackets()

	assert.Empty(t, r.Streams())
	assert.Zero(t, r.Len())
	_, ok := r.Sdp(key)
	assert.True(t, ok)
}

func TestLossAndRates(t *testing.T) {
	src, dst := ep(addrA, 4000), ep(addrB, 5000)
	r := NewRegistry()
	// 65534, 65535, 1, 2 across the wrap: 0 is missing.
	seqs := []uint16{65534, 65535, 1, 2}
	for i, seq := range seqs {
		r.AddPacket(rtpPacket(uint64(i), time.Duration(i)*500*time.Millisecond, src, dst, 1, 0, seq, uint32(i*160)))
	}

	st := r.Streams()[0].Stats()
	assert.Equal(t, uint64(5), st.Expected)
	assert.Equal(t, int64(1), st.Lost)
	assert.InDelta(t, 20.0, st.LossPercent, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, st.Duration)
	assert.InDelta(t, float64(4*214*8)/1.5, st.Bitrate, 1e-9)
	assert.InDelta(t, 4/1.5, st.PacketRate, 1e-9)
}

func TestSinglePacketRatesAreZero(t *testing.T) {
	r := NewRegistry()
	r.AddPacket(rtpPacket(0, time.Second, ep(addrA, 1), ep(addrB, 2), 1, 0, 1, 0))

	st := r.Streams()[0].Stats()
	assert.Zero(t, st.Duration)
	assert.Zero(t, st.Bitrate)
	assert.Zero(t, st.PacketRate)
	assert.Zero(t, st.LossPercent)
	assert.Equal(t, uint64(1), st.Expected)
}

func TestLossPercentGuard(t *testing.T) {
	assert.Zero(t, LossPercent(0, 0))
	assert.Equal(t, 50.0, LossPercent(1, 2))
}
