// Package core defines core types with zero external dependencies.
package core

import "fmt"

// RtpPacket is a decoded RTP fixed header plus payload length.
type RtpPacket struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	PayloadLength  int
}

// RTCP packet types (RFC 3550, RFC 4585, RFC 3611).
const (
	RtcpTypeSR    uint8 = 200
	RtcpTypeRR    uint8 = 201
	RtcpTypeSDES  uint8 = 202
	RtcpTypeBYE   uint8 = 203
	RtcpTypeAPP   uint8 = 204
	RtcpTypeRTPFB uint8 = 205
	RtcpTypePSFB  uint8 = 206
	RtcpTypeXR    uint8 = 207
)

// SDES item types.
const (
	SdesEnd uint8 = iota
	SdesCNAME
	SdesName
	SdesEmail
	SdesPhone
	SdesLoc
	SdesTool
	SdesNote
	SdesPriv
)

// RtcpRecord is one record of an RTCP compound packet.
// It is a closed union over the types below.
type RtcpRecord interface {
	rtcpRecord()
	// Type returns the RTCP packet type number.
	Type() uint8
}

// ReceptionReport is a report block carried by SR and RR.
type ReceptionReport struct {
	SSRC               uint32
	FractionLost       uint8
	TotalLost          uint32
	LastSequenceNumber uint32
	Jitter             uint32
	LastSenderReport   uint32
	Delay              uint32
}

type SenderReport struct {
	SSRC        uint32
	NTPTime     uint64
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Reports     []ReceptionReport
}

type ReceiverReport struct {
	SSRC    uint32
	Reports []ReceptionReport
}

type SdesItem struct {
	Type uint8
	Text string
}

type SdesChunk struct {
	Source uint32
	Items  []SdesItem
}

type SourceDescription struct {
	Chunks []SdesChunk
}

type Goodbye struct {
	Sources []uint32
	Reason  string
}

// OtherRecord is a placeholder for RTCP types that are not decoded field by field.
type OtherRecord struct {
	PacketType uint8
	Name       string
}

func (SenderReport) rtcpRecord()      {}
func (ReceiverReport) rtcpRecord()    {}
func (SourceDescription) rtcpRecord() {}
func (Goodbye) rtcpRecord()           {}
func (OtherRecord) rtcpRecord()       {}

func (SenderReport) Type() uint8      { return RtcpTypeSR }
func (ReceiverReport) Type() uint8    { return RtcpTypeRR }
func (SourceDescription) Type() uint8 { return RtcpTypeSDES }
func (Goodbye) Type() uint8           { return RtcpTypeBYE }
func (o OtherRecord) Type() uint8     { return o.PacketType }

// RtcpTypeName returns the short name of an RTCP packet type.
func RtcpTypeName(t uint8) string {
	switch t {
	case RtcpTypeSR:
		return "SR"
	case RtcpTypeRR:
		return "RR"
	case RtcpTypeSDES:
		return "SDES"
	case RtcpTypeBYE:
		return "BYE"
	case RtcpTypeAPP:
		return "APP"
	case RtcpTypeRTPFB:
		return "RTPFB"
	case RtcpTypePSFB:
		return "PSFB"
	case RtcpTypeXR:
		return "XR"
	default:
		return fmt.Sprintf("RTCP(%d)", t)
	}
}

// CNAME returns the first CNAME item of the chunk, if any.
func (c SdesChunk) CNAME() (string, bool) {
	for _, item := range c.Items {
		if item.Type == SdesCNAME {
			return item.Text, true
		}
	}
	return "", false
}

// StreamKey identifies one media flow.
type StreamKey struct {
	Source      Endpoint
	Destination Endpoint
	Transport   TransportProtocol
	SSRC        uint32
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s -> %s %s ssrc=0x%08X", k.Source, k.Destination, k.Transport, k.SSRC)
}

// PortShifted returns the key with both ports decremented by one,
// the conventional RTP/RTCP port pairing offset.
func (k StreamKey) PortShifted() StreamKey {
	k.Source = k.Source.Shifted(-1)
	k.Destination = k.Destination.Shifted(-1)
	return k
}

// SourceKind distinguishes live interfaces from capture files.
type SourceKind uint8

const (
	SourceInterface SourceKind = iota
	SourceFile
)

func (k SourceKind) String() string {
	if k == SourceFile {
		return "file"
	}
	return "interface"
}

// Source identifies a capture source. It is opaque to the analysis core.
type Source struct {
	Kind SourceKind
	Name string
}

func (s Source) String() string {
	return s.Kind.String() + ":" + s.Name
}

// PayloadFormat describes one RTP payload type mapping.
type PayloadFormat struct {
	Name      string
	ClockRate uint32
	Channels  uint16
}

// Sdp is the out-of-band payload type map negotiated for a stream.
type Sdp struct {
	Formats map[uint8]PayloadFormat
}

// ClockRate returns the clock rate negotiated for pt, if present and non-zero.
func (s Sdp) ClockRate(pt uint8) (uint32, bool) {
	f, ok := s.Formats[pt]
	if !ok || f.ClockRate == 0 {
		return 0, false
	}
	return f.ClockRate, true
}
