package analysis

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/metrics"
)

var (
	src = core.Endpoint{Addr: netip.MustParseAddr("10.1.1.1"), Port: 20000}
	dst = core.Endpoint{Addr: netip.MustParseAddr("10.1.1.2"), Port: 30000}
)

func rtpPacket(id uint64, seq uint16) core.Packet {
	return core.Packet{
		ID:          id,
		Timestamp:   time.Duration(id) * 20 * time.Millisecond,
		Length:      214,
		Source:      src,
		Destination: dst,
		Transport:   core.TransportUDP,
		Session:     core.SessionRTP,
		Contents: &core.RtpPacket{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 160,
			SSRC:           0xABCD,
			PayloadLength:  160,
		},
	}
}

func rtcpPacket(id uint64) core.Packet {
	return core.Packet{
		ID:          id,
		Source:      src.Shifted(1),
		Destination: dst.Shifted(1),
		Transport:   core.TransportUDP,
		Session:     core.SessionRTCP,
		Contents: core.RtcpCompound{
			core.SenderReport{SSRC: 0xABCD},
			core.SourceDescription{Chunks: []core.SdesChunk{{Source: 0xABCD, Items: []core.SdesItem{{Type: core.SdesCNAME, Text: "alice@host"}}}}},
		},
	}
}

func router(o *Observer) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", o.Routes)
	return r
}

func TestStreamsAPI(t *testing.T) {
	o := New()
	o.OnPacket(rtpPacket(0, 10))
	o.OnPacket(rtpPacket(1, 11))
	o.OnPacket(rtcpPacket(2))
	o.OnPacket(rtpPacket(3, 13))

	rec := httptest.NewRecorder()
	router(o).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []StreamView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	v := views[0]
	assert.Equal(t, "A", v.Alias)
	assert.Equal(t, "0x0000ABCD", v.SSRC)
	assert.Equal(t, "alice@host", v.CNAME)
	assert.Equal(t, 3, v.RtpPackets)
	assert.Equal(t, []string{"2 (1)", "2 (2)"}, v.RtcpRecords)
	assert.Equal(t, uint64(4), v.Stats.Expected)
	assert.Equal(t, int64(1), v.Stats.Lost)

	rec = httptest.NewRecorder()
	router(o).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams/A", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router(o).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams/B", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshAndReset(t *testing.T) {
	o := New()
	o.OnPacket(rtpPacket(0, 1))
	o.OnPacket(rtpPacket(1, 3))

	o.Refresh()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StreamsTracked))
	assert.InDelta(t, 33.333, testutil.ToFloat64(metrics.StreamLossPercent.WithLabelValues("A")), 0.01)

	o.OnReset()
	assert.Empty(t, o.Streams())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.StreamsTracked))
}

func TestRefreshDropsVanishedStreams(t *testing.T) {
	o := New()
	o.OnPacket(rtpPacket(0, 1))
	other := rtpPacket(1, 1)
	other.Contents.(*core.RtpPacket).SSRC = 0x1234
	o.OnPacket(other)

	o.Refresh()
	require.Equal(t, 2, testutil.CollectAndCount(metrics.StreamJitterSeconds))
	require.Equal(t, 2, testutil.CollectAndCount(metrics.StreamLossPercent))

	// Reclassifying the only packet of stream B removes the stream.
	other.Session, other.Contents = core.SessionUnknown, core.Unknown{}
	o.OnPacket(other)
	o.Refresh()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StreamsTracked))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.StreamJitterSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.StreamLossPercent))
}

func TestSdpChangesClockRate(t *testing.T) {
	o := New()
	o.OnPacket(rtpPacket(0, 1))
	key := core.StreamKey{Source: src, Destination: dst, Transport: core.TransportUDP, SSRC: 0xABCD}
	o.OnSdp(key, core.Sdp{Formats: map[uint8]core.PayloadFormat{0: {Name: "PCMU", ClockRate: 8000}}})

	v, ok := o.Stream("A")
	require.True(t, ok)
	assert.Equal(t, 1, v.RtpPackets)
}
