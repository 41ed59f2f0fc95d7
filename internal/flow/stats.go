package flow

import "time"

// seqTracker extends 16-bit RTP sequence numbers across wrap-around and
// keeps the extended span seen so far.
type seqTracker struct {
	started  bool
	min, max int64
	received uint64
}

func (s *seqTracker) add(seq uint16) {
	s.received++
	if !s.started {
		s.started = true
		s.min, s.max = int64(seq), int64(seq)
		return
	}

	ext := s.extend(seq)
	if ext > s.max {
		s.max = ext
	}
	if ext < s.min {
		s.min = ext
	}
}

// extend places seq in the 2^16 cycle closest to the highest extended
// sequence number seen.
func (s *seqTracker) extend(seq uint16) int64 {
	ext := s.max&^0xFFFF | int64(seq)
	switch {
	case ext+0x8000 < s.max:
		ext += 0x10000
	case ext > s.max+0x8000:
		ext -= 0x10000
	}
	return ext
}

func (s *seqTracker) expected() uint64 {
	if !s.started {
		return 0
	}
	return uint64(s.max - s.min + 1)
}

// Stats is a point-in-time summary of a stream.
type Stats struct {
	Packets     uint64        `json:"packets"`
	Bytes       uint64        `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	Bitrate     float64       `json:"bitrate_bps"`
	PacketRate  float64       `json:"packet_rate"`
	Expected    uint64        `json:"expected"`
	Lost        int64         `json:"lost"`
	LossPercent float64       `json:"loss_percent"`

	// Jitter figures are in seconds.
	Jitter     float64 `json:"jitter"`
	MaxJitter  float64 `json:"max_jitter"`
	MeanJitter float64 `json:"mean_jitter"`

	PayloadType    uint8  `json:"payload_type"`
	RtcpRecords    int    `json:"rtcp_records"`
	SenderReports  int    `json:"sender_reports"`
	LastSenderNTP  uint64 `json:"last_sender_ntp,omitempty"`
	LastSenderTime string `json:"last_sender_time,omitempty"`
}

// LossPercent returns lost/expected as a percentage, 0 when nothing is expected.
func LossPercent(lost int64, expected uint64) float64 {
	if expected == 0 {
		return 0
	}
	return float64(lost) / float64(expected) * 100
}

// Rates returns bits per second and packets per second over d.
// Both are 0 for a zero duration.
func Rates(bytes, packets uint64, d time.Duration) (bitrate, packetRate float64) {
	secs := d.Seconds()
	if secs <= 0 {
		return 0, 0
	}
	return float64(bytes) * 8 / secs, float64(packets) / secs
}
