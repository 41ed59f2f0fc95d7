package rtp

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"

	"firestige.xyz/rtpscope/internal/core"
)

// makeRTPPayload builds a minimal 12-byte RTP header followed by n payload bytes.
//
//	byte 0: V=2  P=0  X=0  CC=0  →  0x80
//	byte 1: M=marker  PT=pt
//	bytes 2-3: sequence
//	bytes 4-7: timestamp
//	bytes 8-11: ssrc
func makeRTPPayload(pt uint8, seq uint16, ts uint32, ssrc uint32, marker bool, n int) []byte {
	b := make([]byte, 12+n)
	b[0] = 0x80
	b[1] = pt & 0x7F
	if marker {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:4], seq)
	binary.BigEndian.PutUint32(b[4:8], ts)
	binary.BigEndian.PutUint32(b[8:12], ssrc)
	return b
}

func TestDecodeRTP(t *testing.T) {
	pkt, err := DecodeRTP(makeRTPPayload(8, 1000, 160, 0x11223344, true, 160))
	if err != nil {
		t.Fatalf("DecodeRTP failed: %v", err)
	}

	if pkt.Version != 2 {
		t.Errorf("Expected version 2, got %d", pkt.Version)
	}
	if !pkt.Marker {
		t.Error("Expected marker bit")
	}
	if pkt.PayloadType != 8 || pkt.SequenceNumber != 1000 || pkt.Timestamp != 160 {
		t.Errorf("unexpected header fields: %+v", pkt)
	}
	if pkt.SSRC != 0x11223344 {
		t.Errorf("Expected SSRC 0x11223344, got %#x", pkt.SSRC)
	}
	if pkt.PayloadLength != 160 {
		t.Errorf("Expected payload length 160, got %d", pkt.PayloadLength)
	}
}

func TestDecodeRTPWithCSRC(t *testing.T) {
	raw, err := (&pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: 7,
			SSRC:           1,
			CSRC:           []uint32{10, 20},
		},
		Payload: []byte{1, 2, 3},
	}).Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	pkt, err := DecodeRTP(raw)
	if err != nil {
		t.Fatalf("DecodeRTP failed: %v", err)
	}
	if len(pkt.CSRC) != 2 || pkt.CSRC[0] != 10 || pkt.CSRC[1] != 20 {
		t.Errorf("unexpected CSRC list %v", pkt.CSRC)
	}
	if pkt.PayloadLength != 3 {
		t.Errorf("Expected payload length 3, got %d", pkt.PayloadLength)
	}
}

func TestDecodeRTPStripsPadding(t *testing.T) {
	b := makeRTPPayload(0, 1, 1, 1, false, 8)
	b[0] |= 0x20 // P
	b[len(b)-1] = 4

	pkt, err := DecodeRTP(b)
	if err != nil {
		t.Fatalf("DecodeRTP failed: %v", err)
	}
	if !pkt.Padding {
		t.Error("Expected padding flag")
	}
	if pkt.PayloadLength != 4 {
		t.Errorf("Expected payload length 4, got %d", pkt.PayloadLength)
	}
}

func TestDecodeRTPErrors(t *testing.T) {
	if _, err := DecodeRTP([]byte{0x80, 0x08}); !errors.Is(err, core.ErrPacketTooShort) {
		t.Errorf("Expected ErrPacketTooShort, got %v", err)
	}

	// CC=15 announces 60 bytes of CSRC that are not there.
	b := makeRTPPayload(0, 1, 1, 1, false, 0)
	b[0] |= 0x0F
	if _, err := DecodeRTP(b); !errors.Is(err, core.ErrMalformedRTP) {
		t.Errorf("Expected ErrMalformedRTP, got %v", err)
	}
}

func TestIsReservedPayloadType(t *testing.T) {
	for pt := uint8(0); pt < 128; pt++ {
		want := pt >= 72 && pt <= 76
		if got := IsReservedPayloadType(pt); got != want {
			t.Errorf("IsReservedPayloadType(%d) = %v", pt, got)
		}
	}
}

func marshalRTCP(t *testing.T, packets ...rtcp.Packet) []byte {
	t.Helper()
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		t.Fatalf("rtcp marshal failed: %v", err)
	}
	return raw
}

func TestDecodeRTCPCompound(t *testing.T) {
	raw := marshalRTCP(t,
		&rtcp.SenderReport{
			SSRC:        0xAABBCCDD,
			NTPTime:     0xc59286ee1ba5e354,
			RTPTime:     4000,
			PacketCount: 25,
			OctetCount:  4000,
			Reports: []rtcp.ReceptionReport{{
				SSRC:               0x01020304,
				FractionLost:       12,
				TotalLost:          3,
				LastSequenceNumber: 65600,
				Jitter:             42,
				LastSenderReport:   9,
				Delay:              10,
			}},
		},
		&rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{
			Source: 0xAABBCCDD,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "alice@example.com"}},
		}}},
		&rtcp.Goodbye{Sources: []uint32{0xAABBCCDD}, Reason: "done"},
	)

	records, err := DecodeRTCP(raw)
	if err != nil {
		t.Fatalf("DecodeRTCP failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	sr, ok := records[0].(core.SenderReport)
	if !ok {
		t.Fatalf("Expected SenderReport first, got %T", records[0])
	}
	if sr.SSRC != 0xAABBCCDD || sr.PacketCount != 25 || sr.RTPTime != 4000 {
		t.Errorf("unexpected sender report %+v", sr)
	}
	if core.FormatNTP(sr.NTPTime) != "2005-01-14 17:59:10.108" {
		t.Errorf("unexpected NTP time %s", core.FormatNTP(sr.NTPTime))
	}
	if len(sr.Reports) != 1 || sr.Reports[0].LastSequenceNumber != 65600 || sr.Reports[0].FractionLost != 12 {
		t.Errorf("unexpected reception reports %+v", sr.Reports)
	}

	sdes, ok := records[1].(core.SourceDescription)
	if !ok {
		t.Fatalf("Expected SourceDescription second, got %T", records[1])
	}
	if cname, ok := sdes.Chunks[0].CNAME(); !ok || cname != "alice@example.com" {
		t.Errorf("unexpected CNAME %q", cname)
	}

	bye, ok := records[2].(core.Goodbye)
	if !ok || bye.Reason != "done" || len(bye.Sources) != 1 {
		t.Errorf("unexpected goodbye %+v", records[2])
	}
}

func TestDecodeRTCPOtherTypes(t *testing.T) {
	raw := marshalRTCP(t,
		&rtcp.ReceiverReport{SSRC: 1},
		&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2},
	)

	records, err := DecodeRTCP(raw)
	if err != nil {
		t.Fatalf("DecodeRTCP failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	other, ok := records[1].(core.OtherRecord)
	if !ok {
		t.Fatalf("Expected OtherRecord, got %T", records[1])
	}
	if other.Type() != core.RtcpTypePSFB || other.Name != "PSFB" {
		t.Errorf("unexpected other record %+v", other)
	}
}

func TestDecodeRTCPErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, core.ErrPacketTooShort},
		{"short", []byte{0x80, 0xC8}, core.ErrPacketTooShort},
		{"bad version", []byte{0x40, 0xC9, 0x00, 0x01, 0, 0, 0, 1}, core.ErrMalformedRTCP},
		{"length overrun", []byte{0x80, 0xC9, 0x00, 0x09, 0, 0, 0, 1}, core.ErrMalformedRTCP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := DecodeRTCP(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if records != nil {
				t.Errorf("Expected no records, got %v", records)
			}
		})
	}
}

func TestRecordSSRCs(t *testing.T) {
	tests := []struct {
		name   string
		record core.RtcpRecord
		want   []uint32
	}{
		{"sr", core.SenderReport{SSRC: 1}, []uint32{1}},
		{"rr", core.ReceiverReport{SSRC: 2}, []uint32{2}},
		{"sdes", core.SourceDescription{Chunks: []core.SdesChunk{{Source: 3}, {Source: 4}}}, []uint32{3, 4}},
		{"bye", core.Goodbye{Sources: []uint32{5}}, nil},
		{"other", core.OtherRecord{PacketType: core.RtcpTypeAPP}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecordSSRCs(tt.record)
			if len(got) != len(tt.want) {
				t.Fatalf("RecordSSRCs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("RecordSSRCs()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestClockRate(t *testing.T) {
	if rate, ok := ClockRate(8); !ok || rate != 8000 {
		t.Errorf("ClockRate(8) = %d, %v", rate, ok)
	}
	if rate, ok := ClockRate(26); !ok || rate != 90000 {
		t.Errorf("ClockRate(26) = %d, %v", rate, ok)
	}
	for _, pt := range []uint8{1, 19, 72, 96, 127} {
		if _, ok := ClockRate(pt); ok {
			t.Errorf("ClockRate(%d) should be undefined", pt)
		}
	}
}

func TestResolveClockRate(t *testing.T) {
	sdp := &core.Sdp{Formats: map[uint8]core.PayloadFormat{
		96: {Name: "opus", ClockRate: 48000, Channels: 2},
		0:  {Name: "PCMU", ClockRate: 16000},
		97: {Name: "broken"},
	}}

	if rate, ok := ResolveClockRate(sdp, 96); !ok || rate != 48000 {
		t.Errorf("dynamic type: got %d, %v", rate, ok)
	}
	if rate, _ := ResolveClockRate(sdp, 0); rate != 16000 {
		t.Errorf("negotiated rate must win over the static table, got %d", rate)
	}
	if _, ok := ResolveClockRate(sdp, 97); ok {
		t.Error("zero clock rate must be treated as undefined")
	}
	if rate, ok := ResolveClockRate(nil, 8); !ok || rate != 8000 {
		t.Errorf("static fallback: got %d, %v", rate, ok)
	}
}
