// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("rtpscope: packet too short")
	ErrUnsupportedProto = errors.New("rtpscope: unsupported protocol")
	ErrMalformedRTP     = errors.New("rtpscope: malformed rtp packet")
	ErrMalformedRTCP    = errors.New("rtpscope: malformed rtcp packet")
	ErrMalformedSDP     = errors.New("rtpscope: malformed sdp")

	// Capture errors
	ErrSourceUnavailable = errors.New("rtpscope: capture source unavailable")
	ErrCaptureStopped    = errors.New("rtpscope: capture stopped")

	// Wire protocol errors
	ErrMalformedMessage = errors.New("rtpscope: malformed message")
	ErrFrameTooLarge    = errors.New("rtpscope: frame too large")

	// Hub errors
	ErrViewerClosed   = errors.New("rtpscope: viewer closed")
	ErrPacketNotFound = errors.New("rtpscope: packet not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("rtpscope: invalid configuration")
)
