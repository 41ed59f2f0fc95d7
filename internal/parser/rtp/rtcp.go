package rtp

import (
	"fmt"

	"github.com/pion/rtcp"

	"firestige.xyz/rtpscope/internal/core"
)

const rtcpHeaderLength = 4

// DecodeRTCP parses a compound RTCP packet. Records keep their order in the
// datagram. Any structural failure yields no records at all.
func DecodeRTCP(b []byte) ([]core.RtcpRecord, error) {
	if len(b) < rtcpHeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrPacketTooShort, len(b))
	}

	packets, err := rtcp.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedRTCP, err)
	}

	records := make([]core.RtcpRecord, 0, len(packets))
	for _, p := range packets {
		records = append(records, convertRecord(p))
	}
	return records, nil
}

func convertRecord(p rtcp.Packet) core.RtcpRecord {
	switch v := p.(type) {
	case *rtcp.SenderReport:
		return core.SenderReport{
			SSRC:        v.SSRC,
			NTPTime:     v.NTPTime,
			RTPTime:     v.RTPTime,
			PacketCount: v.PacketCount,
			OctetCount:  v.OctetCount,
			Reports:     convertReports(v.Reports),
		}
	case *rtcp.ReceiverReport:
		return core.ReceiverReport{
			SSRC:    v.SSRC,
			Reports: convertReports(v.Reports),
		}
	case *rtcp.SourceDescription:
		chunks := make([]core.SdesChunk, 0, len(v.Chunks))
		for _, c := range v.Chunks {
			items := make([]core.SdesItem, 0, len(c.Items))
			for _, it := range c.Items {
				items = append(items, core.SdesItem{Type: uint8(it.Type), Text: it.Text})
			}
			chunks = append(chunks, core.SdesChunk{Source: c.Source, Items: items})
		}
		return core.SourceDescription{Chunks: chunks}
	case *rtcp.Goodbye:
		return core.Goodbye{
			Sources: append([]uint32(nil), v.Sources...),
			Reason:  v.Reason,
		}
	case *rtcp.RawPacket:
		t := uint8(v.Header().Type)
		return core.OtherRecord{PacketType: t, Name: core.RtcpTypeName(t)}
	default:
		// Feedback and extended report types are kept as typed placeholders.
		t := packetType(p)
		return core.OtherRecord{PacketType: t, Name: core.RtcpTypeName(t)}
	}
}

func convertReports(in []rtcp.ReceptionReport) []core.ReceptionReport {
	if len(in) == 0 {
		return nil
	}
	out := make([]core.ReceptionReport, 0, len(in))
	for _, r := range in {
		out = append(out, core.ReceptionReport{
			SSRC:               r.SSRC,
			FractionLost:       r.FractionLost,
			TotalLost:          r.TotalLost,
			LastSequenceNumber: r.LastSequenceNumber,
			Jitter:             r.Jitter,
			LastSenderReport:   r.LastSenderReport,
			Delay:              r.Delay,
		})
	}
	return out
}

// packetType reads the packet type byte back from the re-marshalled header.
func packetType(p rtcp.Packet) uint8 {
	raw, err := p.Marshal()
	if err != nil || len(raw) < 2 {
		return 0
	}
	return raw[1]
}

// RecordSSRCs returns the SSRCs a record carries for stream correlation:
// the header SSRC of SR and RR, one per chunk for SDES, none otherwise.
func RecordSSRCs(r core.RtcpRecord) []uint32 {
	switch v := r.(type) {
	case core.SenderReport:
		return []uint32{v.SSRC}
	case core.ReceiverReport:
		return []uint32{v.SSRC}
	case core.SourceDescription:
		ssrcs := make([]uint32, 0, len(v.Chunks))
		for _, c := range v.Chunks {
			ssrcs = append(ssrcs, c.Source)
		}
		return ssrcs
	default:
		return nil
	}
}
