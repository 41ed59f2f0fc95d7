package flow

import (
	"time"

	"firestige.xyz/rtpscope/internal/core"
)

// jitterState is the RFC 3550 §6.4.1 interarrival jitter estimator, kept in
// seconds. Only the previous RTP packet of the stream is remembered.
type jitterState struct {
	havePrev    bool
	prevType    uint8
	prevArrival time.Duration
	prevRTPTime uint32

	value   float64
	max     float64
	sum     float64
	samples int
}

// update feeds one RTP packet. clockRate is the rate resolved for the
// packet's payload type; ok is false when it is undefined. A payload type
// change or an undefined clock rate resets the estimate to zero.
func (j *jitterState) update(arrival time.Duration, h *core.RtpPacket, clockRate uint32, ok bool) {
	defer func() {
		j.havePrev = true
		j.prevType = h.PayloadType
		j.prevArrival = arrival
		j.prevRTPTime = h.Timestamp
	}()

	if !j.havePrev {
		return
	}

	if !ok || clockRate == 0 || h.PayloadType != j.prevType {
		j.value = 0
	} else {
		transit := (arrival - j.prevArrival).Seconds()
		// RTP timestamps wrap; the signed 32-bit difference survives it.
		media := float64(int32(h.Timestamp-j.prevRTPTime)) / float64(clockRate)
		d := transit - media
		j.value += (d - j.value) / 16
	}

	j.sum += j.value
	j.samples++
	if j.value > j.max {
		j.max = j.value
	}
}

func (j *jitterState) mean() float64 {
	if j.samples == 0 {
		return 0
	}
	return j.sum / float64(j.samples)
}
