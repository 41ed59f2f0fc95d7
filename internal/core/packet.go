// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"time"
)

// TransportProtocol is the L4 protocol carrying a packet.
type TransportProtocol uint8

const (
	TransportTCP TransportProtocol = 6
	TransportUDP TransportProtocol = 17
)

func (t TransportProtocol) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	default:
		return fmt.Sprintf("proto(%d)", uint8(t))
	}
}

// SessionProtocol is the classification outcome of a packet's payload.
// Unknown is a valid, first-class value and not an error.
type SessionProtocol uint8

const (
	SessionUnknown SessionProtocol = iota
	SessionRTP
	SessionRTCP
)

func (s SessionProtocol) String() string {
	switch s {
	case SessionRTP:
		return "RTP"
	case SessionRTCP:
		return "RTCP"
	default:
		return "Unknown"
	}
}

// ParseSessionProtocol converts "rtp", "rtcp" or "unknown" (any case) to a SessionProtocol.
func ParseSessionProtocol(s string) (SessionProtocol, error) {
	switch s {
	case "rtp", "RTP", "Rtp":
		return SessionRTP, nil
	case "rtcp", "RTCP", "Rtcp":
		return SessionRTCP, nil
	case "unknown", "Unknown", "UNKNOWN", "":
		return SessionUnknown, nil
	default:
		return SessionUnknown, fmt.Errorf("%w: session protocol %q", ErrUnsupportedProto, s)
	}
}

// Endpoint is one side of a transport conversation.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// Shifted returns the endpoint with its port moved by delta.
func (e Endpoint) Shifted(delta int) Endpoint {
	return Endpoint{Addr: e.Addr, Port: uint16(int(e.Port) + delta)}
}

// SessionPayload is the decoded session-layer content of a packet.
// It is a closed union: Unknown, *RtpPacket or RtcpCompound.
type SessionPayload interface {
	sessionPayload()
}

// Unknown is the payload of packets that carry no recognised session protocol.
type Unknown struct{}

// RtcpCompound is the ordered list of records decoded from one RTCP compound packet.
type RtcpCompound []RtcpRecord

func (Unknown) sessionPayload()      {}
func (*RtpPacket) sessionPayload()   {}
func (RtcpCompound) sessionPayload() {}

// Packet is one decoded frame.
type Packet struct {
	ID          uint64
	Timestamp   time.Duration // since capture start
	Length      uint32        // original frame length
	Source      Endpoint
	Destination Endpoint
	Transport   TransportProtocol
	Session     SessionProtocol
	Contents    SessionPayload

	// Payload holds the transport payload; it is never sent to viewers.
	Payload []byte
}

// RTP returns the RTP header when the packet is classified as RTP.
func (p *Packet) RTP() (*RtpPacket, bool) {
	if p.Session != SessionRTP {
		return nil, false
	}
	rtp, ok := p.Contents.(*RtpPacket)
	return rtp, ok && rtp != nil
}

// RTCP returns the RTCP records when the packet is classified as RTCP.
func (p *Packet) RTCP() (RtcpCompound, bool) {
	if p.Session != SessionRTCP {
		return nil, false
	}
	records, ok := p.Contents.(RtcpCompound)
	return records, ok
}

// WithoutPayload returns a shallow copy stripped of the raw payload bytes.
func (p Packet) WithoutPayload() Packet {
	p.Payload = nil
	return p
}
