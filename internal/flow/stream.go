package flow

import (
	"fmt"
	"time"

	"firestige.xyz/rtpscope/internal/core"
)

// RtcpRef points at one record of an RTCP compound packet.
type RtcpRef struct {
	PacketID uint64
	Index    int // position of the record inside its compound packet
	Record   core.RtcpRecord
}

// Label renders the reference as "<packet id> (<record number>)", counting
// records from one.
func (r RtcpRef) Label() string {
	return fmt.Sprintf("%d (%d)", r.PacketID, r.Index+1)
}

// Stream aggregates the RTP packets of one flow key and the RTCP records
// correlated to it.
type Stream struct {
	Key      core.StreamKey
	Alias    string
	CNAME    string
	RtpRefs  []uint64
	RtcpRefs []RtcpRef

	jitter      jitterState
	seq         seqTracker
	bytes       uint64
	first, last time.Duration
	payloadType uint8

	senderReports int
	lastSenderNTP uint64
}

func newStream(key core.StreamKey, alias string) *Stream {
	return &Stream{Key: key, Alias: alias}
}

func (s *Stream) addRTP(pkt *core.Packet, h *core.RtpPacket, clockRate uint32, ok bool) {
	if len(s.RtpRefs) == 0 {
		s.first = pkt.Timestamp
	}
	s.last = pkt.Timestamp
	s.RtpRefs = append(s.RtpRefs, pkt.ID)
	s.bytes += uint64(pkt.Length)
	s.payloadType = h.PayloadType
	s.seq.add(h.SequenceNumber)
	s.jitter.update(pkt.Timestamp, h, clockRate, ok)
}

func (s *Stream) addRTCP(ref RtcpRef) {
	s.RtcpRefs = append(s.RtcpRefs, ref)
	if sr, ok := ref.Record.(core.SenderReport); ok {
		s.senderReports++
		s.lastSenderNTP = sr.NTPTime
	}
}

// Jitter returns the current interarrival jitter in seconds.
func (s *Stream) Jitter() float64 {
	return s.jitter.value
}

// Duration is the time between the first and the last RTP packet.
func (s *Stream) Duration() time.Duration {
	if len(s.RtpRefs) == 0 {
		return 0
	}
	return s.last - s.first
}

// Stats summarises the stream.
func (s *Stream) Stats() Stats {
	packets := uint64(len(s.RtpRefs))
	expected := s.seq.expected()
	lost := int64(expected) - int64(s.seq.received)
	duration := s.Duration()
	bitrate, packetRate := Rates(s.bytes, packets, duration)

	st := Stats{
		Packets:       packets,
		Bytes:         s.bytes,
		Duration:      duration,
		Bitrate:       bitrate,
		PacketRate:    packetRate,
		Expected:      expected,
		Lost:          lost,
		LossPercent:   LossPercent(lost, expected),
		Jitter:        s.jitter.value,
		MaxJitter:     s.jitter.max,
		MeanJitter:    s.jitter.mean(),
		PayloadType:   s.payloadType,
		RtcpRecords:   len(s.RtcpRefs),
		SenderReports: s.senderReports,
	}
	if s.senderReports > 0 {
		st.LastSenderNTP = s.lastSenderNTP
		st.LastSenderTime = core.FormatNTP(s.lastSenderNTP)
	}
	return st
}

// Alias returns the base-26 letter code of the n-th stream (0-indexed):
// A..Z, AA..AZ, BA, ...
func Alias(n int) string {
	var buf [16]byte
	i := len(buf)
	for n++; n > 0; n /= 26 {
		n--
		i--
		buf[i] = byte('A' + n%26)
	}
	return string(buf[i:])
}
