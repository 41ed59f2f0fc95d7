package rtp

import "firestige.xyz/rtpscope/internal/core"

// staticFormats holds the statically assigned payload types of RFC 3551 §6.
// Reserved, unassigned and dynamic types (96-127) are absent.
var staticFormats = map[uint8]core.PayloadFormat{
	0:  {Name: "PCMU", ClockRate: 8000, Channels: 1},
	3:  {Name: "GSM", ClockRate: 8000, Channels: 1},
	4:  {Name: "G723", ClockRate: 8000, Channels: 1},
	5:  {Name: "DVI4", ClockRate: 8000, Channels: 1},
	6:  {Name: "DVI4", ClockRate: 16000, Channels: 1},
	7:  {Name: "LPC", ClockRate: 8000, Channels: 1},
	8:  {Name: "PCMA", ClockRate: 8000, Channels: 1},
	9:  {Name: "G722", ClockRate: 8000, Channels: 1},
	10: {Name: "L16", ClockRate: 44100, Channels: 2},
	11: {Name: "L16", ClockRate: 44100, Channels: 1},
	12: {Name: "QCELP", ClockRate: 8000, Channels: 1},
	13: {Name: "CN", ClockRate: 8000, Channels: 1},
	14: {Name: "MPA", ClockRate: 90000},
	15: {Name: "G728", ClockRate: 8000, Channels: 1},
	16: {Name: "DVI4", ClockRate: 11025, Channels: 1},
	17: {Name: "DVI4", ClockRate: 22050, Channels: 1},
	18: {Name: "G729", ClockRate: 8000, Channels: 1},
	25: {Name: "CelB", ClockRate: 90000},
	26: {Name: "JPEG", ClockRate: 90000},
	28: {Name: "nv", ClockRate: 90000},
	31: {Name: "H261", ClockRate: 90000},
	32: {Name: "MPV", ClockRate: 90000},
	33: {Name: "MP2T", ClockRate: 90000},
	34: {Name: "H263", ClockRate: 90000},
}

// StaticFormat returns the RFC 3551 static format for pt.
func StaticFormat(pt uint8) (core.PayloadFormat, bool) {
	f, ok := staticFormats[pt]
	return f, ok
}

// ClockRate returns the static clock rate of pt, or false for reserved,
// unassigned and dynamic payload types.
func ClockRate(pt uint8) (uint32, bool) {
	f, ok := staticFormats[pt]
	return f.ClockRate, ok
}

// ResolveClockRate looks pt up in the negotiated map first and falls back to
// the static table.
func ResolveClockRate(sdp *core.Sdp, pt uint8) (uint32, bool) {
	if sdp != nil {
		if rate, ok := sdp.ClockRate(pt); ok {
			return rate, true
		}
	}
	return ClockRate(pt)
}
