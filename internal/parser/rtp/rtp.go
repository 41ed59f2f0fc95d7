// Package rtp decodes RTP and RTCP datagrams into core records.
//
// Both decoders are pure byte-to-struct transforms: they validate structure
// only. Acceptance heuristics (version, reserved payload types, leading
// report type) live in the parser package so that forced reclassification
// can bypass them.
package rtp

import (
	"fmt"

	pionrtp "github.com/pion/rtp"

	"firestige.xyz/rtpscope/internal/core"
)

const (
	rtpMinLength = 12 // Fixed RTP header size (RFC 3550 §5.1)

	// Payload types 72-76 collide with RTCP SR..APP once the marker bit is
	// masked off (RFC 3551 §6).
	reservedPayloadTypeMin = 72
	reservedPayloadTypeMax = 76
)

// DecodeRTP parses an RTP header from b. Padding is stripped from the
// reported payload length.
func DecodeRTP(b []byte) (*core.RtpPacket, error) {
	if len(b) < rtpMinLength {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrPacketTooShort, len(b))
	}

	var p pionrtp.Packet
	if err := p.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedRTP, err)
	}

	var csrc []uint32
	if len(p.CSRC) > 0 {
		csrc = append(csrc, p.CSRC...)
	}

	return &core.RtpPacket{
		Version:        p.Version,
		Padding:        p.Padding,
		Extension:      p.Extension,
		Marker:         p.Marker,
		PayloadType:    p.PayloadType,
		SequenceNumber: p.SequenceNumber,
		Timestamp:      p.Timestamp,
		SSRC:           p.SSRC,
		CSRC:           csrc,
		PayloadLength:  len(p.Payload),
	}, nil
}

// IsReservedPayloadType reports whether pt lies in the range reserved for
// RTCP conflict avoidance.
func IsReservedPayloadType(pt uint8) bool {
	return pt >= reservedPayloadTypeMin && pt <= reservedPayloadTypeMax
}
