package wire

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/rtpscope/internal/core"
)

func samplePacket() core.Packet {
	return core.Packet{
		ID:          42,
		Timestamp:   1500 * time.Millisecond,
		Length:      214,
		Source:      core.Endpoint{Addr: netip.MustParseAddr("192.168.1.1"), Port: 5004},
		Destination: core.Endpoint{Addr: netip.MustParseAddr("2001:db8::2"), Port: 6004},
		Transport:   core.TransportUDP,
		Session:     core.SessionRTP,
		Contents: &core.RtpPacket{
			Version:        2,
			Marker:         true,
			PayloadType:    0,
			SequenceNumber: 65535,
			Timestamp:      0xFFFFFFFF,
			SSRC:           0xDEADBEEF,
			CSRC:           []uint32{1, 2},
			PayloadLength:  160,
		},
		Payload: []byte{1, 2, 3},
	}
}

func TestPacketResponseDropsPayload(t *testing.T) {
	pkt := samplePacket()

	b, err := MarshalResponse(PacketResponse{Packet: pkt})
	require.NoError(t, err)
	resp, err := UnmarshalResponse(b)
	require.NoError(t, err)

	got, ok := resp.(PacketResponse)
	require.True(t, ok)
	assert.Nil(t, got.Packet.Payload)
	assert.Equal(t, pkt.WithoutPayload(), got.Packet)
}

func TestPacketResponseRTCP(t *testing.T) {
	pkt := core.Packet{
		ID:        7,
		Transport: core.TransportUDP,
		Session:   core.SessionRTCP,
		Contents: core.RtcpCompound{
			core.SenderReport{
				SSRC:    1,
				NTPTime: 0xc59286ee1ba5e354,
				Reports: []core.ReceptionReport{{SSRC: 2, FractionLost: 3, TotalLost: 4, Jitter: 5}},
			},
			core.ReceiverReport{SSRC: 9},
			core.SourceDescription{Chunks: []core.SdesChunk{{
				Source: 1,
				Items:  []core.SdesItem{{Type: core.SdesCNAME, Text: "a@b"}, {Type: core.SdesTool, Text: "x"}},
			}}},
			core.Goodbye{Sources: []uint32{1, 2}, Reason: "bye"},
			core.OtherRecord{PacketType: core.RtcpTypeXR, Name: "XR"},
		},
	}

	b, err := MarshalResponse(PacketResponse{Packet: pkt})
	require.NoError(t, err)
	resp, err := UnmarshalResponse(b)
	require.NoError(t, err)

	assert.Equal(t, pkt, resp.(PacketResponse).Packet)
}

func TestPacketResponseUnknown(t *testing.T) {
	pkt := core.Packet{ID: 3, Transport: core.TransportTCP, Contents: core.Unknown{}}

	b, err := MarshalResponse(PacketResponse{Packet: pkt})
	require.NoError(t, err)
	resp, err := UnmarshalResponse(b)
	require.NoError(t, err)

	got := resp.(PacketResponse).Packet
	assert.Equal(t, core.SessionUnknown, got.Session)
	assert.Equal(t, core.Unknown{}, got.Contents)
	assert.False(t, got.Source.Addr.IsValid())
}

func TestOtherResponses(t *testing.T) {
	key := core.StreamKey{
		Source:      core.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 4000},
		Destination: core.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 5000},
		Transport:   core.TransportUDP,
		SSRC:        77,
	}
	tests := []Response{
		SourcesResponse{Sources: []core.Source{
			{Kind: core.SourceInterface, Name: "eth0"},
			{Kind: core.SourceFile, Name: "/captures/call.pcap"},
		}},
		SdpResponse{Key: key, Sdp: core.Sdp{Formats: map[uint8]core.PayloadFormat{
			0:   {Name: "PCMU", ClockRate: 8000, Channels: 1},
			111: {Name: "opus", ClockRate: 48000, Channels: 2},
		}}},
		ResetResponse{},
	}

	for _, want := range tests {
		b, err := MarshalResponse(want)
		require.NoError(t, err)
		got, err := UnmarshalResponse(b)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRequests(t *testing.T) {
	tests := []Request{
		FetchAllRequest{},
		ChangeSourceRequest{Source: core.Source{Kind: core.SourceFile, Name: "a.pcapng"}},
		ReparseRequest{PacketID: 0, Protocol: core.SessionRTP},
		ReparseRequest{PacketID: 1 << 40, Protocol: core.SessionUnknown},
		SetSdpRequest{Key: core.StreamKey{SSRC: 5}, Sdp: "v=0\r\n"},
	}

	for _, want := range tests {
		b, err := MarshalRequest(want)
		require.NoError(t, err)
		got, err := UnmarshalRequest(b)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	b, err := MarshalRequest(ReparseRequest{PacketID: 9, Protocol: core.SessionRTCP})
	require.NoError(t, err)

	// A newer peer adds a top-level field and a fixed32 field we do not know.
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1)

	got, err := UnmarshalRequest(b)
	require.NoError(t, err)
	assert.Equal(t, ReparseRequest{PacketID: 9, Protocol: core.SessionRTCP}, got)
}

func TestMalformedMessages(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated tag", []byte{0x80}},
		{"truncated length", []byte{0x0A, 0x05, 0x01}},
		{"only unknown fields", protowire.AppendVarint(protowire.AppendTag(nil, 50, protowire.VarintType), 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalRequest(tt.data)
			assert.ErrorIs(t, err, core.ErrMalformedMessage)
			_, err = UnmarshalResponse(tt.data)
			assert.ErrorIs(t, err, core.ErrMalformedMessage)
		})
	}
}

func TestReparseRejectsUnknownProtocol(t *testing.T) {
	m := protowire.AppendTag(nil, 2, protowire.VarintType)
	m = protowire.AppendVarint(m, 9)
	b := appendMessage(nil, reqReparse, m)

	_, err := UnmarshalRequest(b)
	assert.ErrorIs(t, err, core.ErrMalformedMessage)
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, ResetResponse{}))
	require.NoError(t, WriteRequest(&buf, FetchAllRequest{}))
	require.NoError(t, WriteFrame(&buf, nil))

	b, err := ReadFrame(&buf)
	require.NoError(t, err)
	resp, err := UnmarshalResponse(b)
	require.NoError(t, err)
	assert.Equal(t, ResetResponse{}, resp)

	b, err = ReadFrame(&buf)
	require.NoError(t, err)
	req, err := UnmarshalRequest(b)
	require.NoError(t, err)
	assert.Equal(t, FetchAllRequest{}, req)

	b, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, b)

	_, err = ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestFramingErrors(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.True(t, errors.Is(err, core.ErrFrameTooLarge))

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 8, 1, 2}))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	err = WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, core.ErrFrameTooLarge)
}
