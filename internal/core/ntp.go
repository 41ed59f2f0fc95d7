package core

import "time"

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// NTPLayout is the display layout of NTP timestamps.
const NTPLayout = "2006-01-02 15:04:05.000"

// NTPTime converts a 64-bit NTP fixed-point timestamp (32.32) to UTC time.
func NTPTime(ntp uint64) time.Time {
	seconds := int64(ntp>>32) - ntpEpochOffset
	fraction := ntp & 0xFFFFFFFF
	nanos := int64((fraction * uint64(time.Second)) >> 32)
	return time.Unix(seconds, nanos).UTC()
}

// FormatNTP renders an NTP timestamp with millisecond precision.
func FormatNTP(ntp uint64) string {
	return NTPTime(ntp).Format(NTPLayout)
}
