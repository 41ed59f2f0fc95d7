// Package wire defines the messages exchanged between the server and its
// viewers and their binary encoding.
//
// Messages use the protobuf wire format, hand-encoded with protowire, so that
// every field is tagged and unknown fields are skipped by older peers. Each
// message travels in its own length-prefixed frame.
package wire

import "firestige.xyz/rtpscope/internal/core"

// Response is a server to viewer message.
type Response interface {
	response()
}

// PacketResponse carries one decoded packet. The raw payload is never sent.
type PacketResponse struct {
	Packet core.Packet
}

// SourcesResponse lists the capture sources a viewer may switch to.
type SourcesResponse struct {
	Sources []core.Source
}

// SdpResponse carries the payload type map negotiated for one stream.
type SdpResponse struct {
	Key core.StreamKey
	Sdp core.Sdp
}

// ResetResponse tells viewers the packet log was cleared.
type ResetResponse struct{}

func (PacketResponse) response()  {}
func (SourcesResponse) response() {}
func (SdpResponse) response()     {}
func (ResetResponse) response()   {}

// Request is a viewer to server message.
type Request interface {
	request()
}

// FetchAllRequest asks for the complete packet log.
type FetchAllRequest struct{}

// ChangeSourceRequest asks the server to switch its capture source.
type ChangeSourceRequest struct {
	Source core.Source
}

// ReparseRequest forces the classification of one packet.
type ReparseRequest struct {
	PacketID uint64
	Protocol core.SessionProtocol
}

// SetSdpRequest attaches an SDP session description to a stream.
type SetSdpRequest struct {
	Key core.StreamKey
	Sdp string
}

func (FetchAllRequest) request()     {}
func (ChangeSourceRequest) request() {}
func (ReparseRequest) request()      {}
func (SetSdpRequest) request()       {}
