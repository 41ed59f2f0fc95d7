// Package parser classifies transport payloads as RTP, RTCP or Unknown.
//
// Two operating modes:
//
//  1. Heuristic (Classify): UDP payloads only. RTP is tried first and accepted
//     when the header is version 2 and the payload type is outside the range
//     reserved for RTCP conflict avoidance. RTCP is accepted when the compound
//     packet decodes and opens with a Sender or Receiver Report.
//
//  2. Forced (Reparse): one interpretation is applied regardless of transport
//     and heuristics. A failed structural decode leaves the packet untouched.
package parser

import (
	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/parser/rtp"
)

const rtpVersion = 2

// Classify sets pkt.Session and pkt.Contents from its payload and returns the
// resulting session protocol. Packets that match neither heuristic are
// classified as Unknown.
func Classify(pkt *core.Packet) core.SessionProtocol {
	setUnknown(pkt)

	if pkt.Transport != core.TransportUDP {
		return core.SessionUnknown
	}

	if h, ok := acceptRTP(pkt.Payload); ok {
		pkt.Session, pkt.Contents = core.SessionRTP, h
		return core.SessionRTP
	}
	if records, ok := acceptRTCP(pkt.Payload); ok {
		pkt.Session, pkt.Contents = core.SessionRTCP, core.RtcpCompound(records)
		return core.SessionRTCP
	}
	return core.SessionUnknown
}

// Reparse forces pkt to be interpreted as proto. It reports whether the
// packet was changed; on a failed decode the packet keeps its previous
// classification. Forcing Unknown always succeeds.
func Reparse(pkt *core.Packet, proto core.SessionProtocol) bool {
	switch proto {
	case core.SessionUnknown:
		setUnknown(pkt)
		return true

	case core.SessionRTP:
		h, err := rtp.DecodeRTP(pkt.Payload)
		if err != nil {
			return false
		}
		pkt.Session, pkt.Contents = core.SessionRTP, h
		return true

	case core.SessionRTCP:
		records, err := rtp.DecodeRTCP(pkt.Payload)
		if err != nil || len(records) == 0 {
			return false
		}
		pkt.Session, pkt.Contents = core.SessionRTCP, core.RtcpCompound(records)
		return true
	}
	return false
}

func acceptRTP(payload []byte) (*core.RtpPacket, bool) {
	h, err := rtp.DecodeRTP(payload)
	if err != nil {
		return nil, false
	}
	if h.Version != rtpVersion || rtp.IsReservedPayloadType(h.PayloadType) {
		return nil, false
	}
	return h, true
}

func acceptRTCP(payload []byte) ([]core.RtcpRecord, bool) {
	records, err := rtp.DecodeRTCP(payload)
	if err != nil || len(records) == 0 {
		return nil, false
	}
	switch records[0].(type) {
	case core.SenderReport, core.ReceiverReport:
		return records, true
	}
	return nil, false
}

func setUnknown(pkt *core.Packet) {
	pkt.Session = core.SessionUnknown
	pkt.Contents = core.Unknown{}
}
