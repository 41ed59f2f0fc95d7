package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/rtpscope/internal/core"
)

// Field numbers. Response and Request are oneofs over their variants;
// nested messages are embedded as length-delimited fields.
const (
	respPacket  protowire.Number = 1
	respSources protowire.Number = 2
	respSdp     protowire.Number = 3
	respReset   protowire.Number = 4

	reqFetchAll     protowire.Number = 1
	reqChangeSource protowire.Number = 2
	reqReparse      protowire.Number = 3
	reqSetSdp       protowire.Number = 4

	recSR    protowire.Number = 1
	recRR    protowire.Number = 2
	recSDES  protowire.Number = 3
	recBYE   protowire.Number = 4
	recOther protowire.Number = 5
)

// MarshalResponse encodes resp.
func MarshalResponse(resp Response) ([]byte, error) {
	var b []byte
	switch v := resp.(type) {
	case PacketResponse:
		b = appendMessage(b, respPacket, appendPacket(nil, &v.Packet))
	case SourcesResponse:
		var m []byte
		for _, s := range v.Sources {
			m = appendMessage(m, 1, appendSource(nil, s))
		}
		b = appendMessage(b, respSources, m)
	case SdpResponse:
		m := appendMessage(nil, 1, appendStreamKey(nil, v.Key))
		for pt, f := range v.Sdp.Formats {
			m = appendMessage(m, 2, appendFormat(nil, pt, f))
		}
		b = appendMessage(b, respSdp, m)
	case ResetResponse:
		b = appendMessage(b, respReset, nil)
	default:
		return nil, fmt.Errorf("%w: response %T", core.ErrMalformedMessage, resp)
	}
	return b, nil
}

// UnmarshalResponse decodes one response. Unknown fields are skipped.
func UnmarshalResponse(b []byte) (Response, error) {
	var resp Response
	err := eachField(b, func(f field) error {
		switch f.num {
		case respPacket:
			pkt, err := decodePacket(f.b)
			if err != nil {
				return err
			}
			resp = PacketResponse{Packet: pkt}
		case respSources:
			var sources []core.Source
			err := eachField(f.b, func(f field) error {
				if f.num != 1 {
					return nil
				}
				s, err := decodeSource(f.b)
				sources = append(sources, s)
				return err
			})
			if err != nil {
				return err
			}
			resp = SourcesResponse{Sources: sources}
		case respSdp:
			r := SdpResponse{Sdp: core.Sdp{Formats: make(map[uint8]core.PayloadFormat)}}
			err := eachField(f.b, func(f field) error {
				switch f.num {
				case 1:
					k, err := decodeStreamKey(f.b)
					r.Key = k
					return err
				case 2:
					pt, pf, err := decodeFormat(f.b)
					r.Sdp.Formats[pt] = pf
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}
			resp = r
		case respReset:
			resp = ResetResponse{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: no known response variant", core.ErrMalformedMessage)
	}
	return resp, nil
}

// MarshalRequest encodes req.
func MarshalRequest(req Request) ([]byte, error) {
	var b []byte
	switch v := req.(type) {
	case FetchAllRequest:
		b = appendMessage(b, reqFetchAll, nil)
	case ChangeSourceRequest:
		b = appendMessage(b, reqChangeSource, appendSource(nil, v.Source))
	case ReparseRequest:
		m := appendVarint(nil, 1, v.PacketID)
		m = appendVarint(m, 2, uint64(v.Protocol))
		b = appendMessage(b, reqReparse, m)
	case SetSdpRequest:
		m := appendMessage(nil, 1, appendStreamKey(nil, v.Key))
		m = protowire.AppendTag(m, 2, protowire.BytesType)
		m = protowire.AppendString(m, v.Sdp)
		b = appendMessage(b, reqSetSdp, m)
	default:
		return nil, fmt.Errorf("%w: request %T", core.ErrMalformedMessage, req)
	}
	return b, nil
}

// UnmarshalRequest decodes one request. Unknown fields are skipped.
func UnmarshalRequest(b []byte) (Request, error) {
	var req Request
	err := eachField(b, func(f field) error {
		switch f.num {
		case reqFetchAll:
			req = FetchAllRequest{}
		case reqChangeSource:
			s, err := decodeSource(f.b)
			if err != nil {
				return err
			}
			req = ChangeSourceRequest{Source: s}
		case reqReparse:
			var r ReparseRequest
			err := eachField(f.b, func(f field) error {
				switch f.num {
				case 1:
					r.PacketID = f.v
				case 2:
					r.Protocol = core.SessionProtocol(f.v)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if r.Protocol > core.SessionRTCP {
				return fmt.Errorf("%w: session protocol %d", core.ErrMalformedMessage, r.Protocol)
			}
			req = r
		case reqSetSdp:
			var r SetSdpRequest
			err := eachField(f.b, func(f field) error {
				switch f.num {
				case 1:
					k, err := decodeStreamKey(f.b)
					r.Key = k
					return err
				case 2:
					r.Sdp = string(f.b)
				}
				return nil
			})
			if err != nil {
				return err
			}
			req = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: no known request variant", core.ErrMalformedMessage)
	}
	return req, nil
}

// field is one decoded tag/value pair. Varint and fixed-width values land in
// v, length-delimited values in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", core.ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", core.ErrMalformedMessage, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// uint32s reads a repeated uint32 field in either packed or unpacked form.
func (f field) uint32s(dst []uint32) ([]uint32, error) {
	if f.typ != protowire.BytesType {
		return append(dst, uint32(f.v)), nil
	}
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, fmt.Errorf("%w: packed field %d: %v", core.ErrMalformedMessage, f.num, protowire.ParseError(n))
		}
		dst = append(dst, uint32(v))
		b = b[n:]
	}
	return dst, nil
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// appendVarint omits zero values, as proto3 does for scalars.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPackedUint32s(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var m []byte
	for _, v := range vs {
		m = protowire.AppendVarint(m, uint64(v))
	}
	return appendMessage(b, num, m)
}

// Packet fields.
const (
	pktID protowire.Number = iota + 1
	pktTimestamp
	pktLength
	pktSource
	pktDestination
	pktTransport
	pktSession
	pktRTP
	pktRTCP
)

func appendPacket(b []byte, p *core.Packet) []byte {
	b = appendVarint(b, pktID, p.ID)
	b = appendVarint(b, pktTimestamp, uint64(int64(p.Timestamp)))
	b = appendVarint(b, pktLength, uint64(p.Length))
	b = appendMessage(b, pktSource, appendEndpoint(nil, p.Source))
	b = appendMessage(b, pktDestination, appendEndpoint(nil, p.Destination))
	b = appendVarint(b, pktTransport, uint64(p.Transport))
	b = appendVarint(b, pktSession, uint64(p.Session))

	switch c := p.Contents.(type) {
	case *core.RtpPacket:
		if c != nil {
			b = appendMessage(b, pktRTP, appendRTP(nil, c))
		}
	case core.RtcpCompound:
		for _, r := range c {
			b = appendMessage(b, pktRTCP, appendRecord(nil, r))
		}
	}
	return b
}

func decodePacket(b []byte) (core.Packet, error) {
	p := core.Packet{Contents: core.Unknown{}}
	var records core.RtcpCompound
	var header *core.RtpPacket

	err := eachField(b, func(f field) error {
		var err error
		switch f.num {
		case pktID:
			p.ID = f.v
		case pktTimestamp:
			p.Timestamp = time.Duration(int64(f.v))
		case pktLength:
			p.Length = uint32(f.v)
		case pktSource:
			p.Source, err = decodeEndpoint(f.b)
		case pktDestination:
			p.Destination, err = decodeEndpoint(f.b)
		case pktTransport:
			p.Transport = core.TransportProtocol(f.v)
		case pktSession:
			p.Session = core.SessionProtocol(f.v)
		case pktRTP:
			header, err = decodeRTP(f.b)
		case pktRTCP:
			var r core.RtcpRecord
			if r, err = decodeRecord(f.b); err == nil && r != nil {
				records = append(records, r)
			}
		}
		return err
	})
	if err != nil {
		return core.Packet{}, err
	}

	switch p.Session {
	case core.SessionRTP:
		if header == nil {
			return core.Packet{}, fmt.Errorf("%w: rtp packet %d without header", core.ErrMalformedMessage, p.ID)
		}
		p.Contents = header
	case core.SessionRTCP:
		p.Contents = records
	case core.SessionUnknown:
	default:
		return core.Packet{}, fmt.Errorf("%w: session protocol %d", core.ErrMalformedMessage, p.Session)
	}
	return p, nil
}

func appendEndpoint(b []byte, e core.Endpoint) []byte {
	if e.Addr.IsValid() {
		addr, _ := e.Addr.MarshalBinary()
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, addr)
	}
	return appendVarint(b, 2, uint64(e.Port))
}

func decodeEndpoint(b []byte) (core.Endpoint, error) {
	var e core.Endpoint
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			if err := e.Addr.UnmarshalBinary(f.b); err != nil {
				return fmt.Errorf("%w: address: %v", core.ErrMalformedMessage, err)
			}
		case 2:
			e.Port = uint16(f.v)
		}
		return nil
	})
	return e, err
}

func appendRTP(b []byte, h *core.RtpPacket) []byte {
	b = appendVarint(b, 1, uint64(h.Version))
	b = appendBool(b, 2, h.Padding)
	b = appendBool(b, 3, h.Extension)
	b = appendBool(b, 4, h.Marker)
	b = appendVarint(b, 5, uint64(h.PayloadType))
	b = appendVarint(b, 6, uint64(h.SequenceNumber))
	b = appendVarint(b, 7, uint64(h.Timestamp))
	b = appendVarint(b, 8, uint64(h.SSRC))
	b = appendPackedUint32s(b, 9, h.CSRC)
	return appendVarint(b, 10, uint64(h.PayloadLength))
}

func decodeRTP(b []byte) (*core.RtpPacket, error) {
	h := &core.RtpPacket{}
	err := eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			h.Version = uint8(f.v)
		case 2:
			h.Padding = protowire.DecodeBool(f.v)
		case 3:
			h.Extension = protowire.DecodeBool(f.v)
		case 4:
			h.Marker = protowire.DecodeBool(f.v)
		case 5:
			h.PayloadType = uint8(f.v)
		case 6:
			h.SequenceNumber = uint16(f.v)
		case 7:
			h.Timestamp = uint32(f.v)
		case 8:
			h.SSRC = uint32(f.v)
		case 9:
			h.CSRC, err = f.uint32s(h.CSRC)
		case 10:
			h.PayloadLength = int(f.v)
		}
		return err
	})
	return h, err
}

func appendRecord(b []byte, r core.RtcpRecord) []byte {
	switch v := r.(type) {
	case core.SenderReport:
		m := appendVarint(nil, 1, uint64(v.SSRC))
		if v.NTPTime != 0 {
			m = protowire.AppendTag(m, 2, protowire.Fixed64Type)
			m = protowire.AppendFixed64(m, v.NTPTime)
		}
		m = appendVarint(m, 3, uint64(v.RTPTime))
		m = appendVarint(m, 4, uint64(v.PacketCount))
		m = appendVarint(m, 5, uint64(v.OctetCount))
		m = appendReports(m, 6, v.Reports)
		return appendMessage(b, recSR, m)
	case core.ReceiverReport:
		m := appendVarint(nil, 1, uint64(v.SSRC))
		m = appendReports(m, 2, v.Reports)
		return appendMessage(b, recRR, m)
	case core.SourceDescription:
		var m []byte
		for _, c := range v.Chunks {
			cm := appendVarint(nil, 1, uint64(c.Source))
			for _, it := range c.Items {
				im := appendVarint(nil, 1, uint64(it.Type))
				im = appendString(im, 2, it.Text)
				cm = appendMessage(cm, 2, im)
			}
			m = appendMessage(m, 1, cm)
		}
		return appendMessage(b, recSDES, m)
	case core.Goodbye:
		m := appendPackedUint32s(nil, 1, v.Sources)
		m = appendString(m, 2, v.Reason)
		return appendMessage(b, recBYE, m)
	case core.OtherRecord:
		m := appendVarint(nil, 1, uint64(v.PacketType))
		m = appendString(m, 2, v.Name)
		return appendMessage(b, recOther, m)
	}
	return b
}

func decodeRecord(b []byte) (core.RtcpRecord, error) {
	var rec core.RtcpRecord
	err := eachField(b, func(f field) error {
		var err error
		switch f.num {
		case recSR:
			var sr core.SenderReport
			err = eachField(f.b, func(f field) error {
				var err error
				switch f.num {
				case 1:
					sr.SSRC = uint32(f.v)
				case 2:
					sr.NTPTime = f.v
				case 3:
					sr.RTPTime = uint32(f.v)
				case 4:
					sr.PacketCount = uint32(f.v)
				case 5:
					sr.OctetCount = uint32(f.v)
				case 6:
					sr.Reports, err = appendDecodedReport(sr.Reports, f.b)
				}
				return err
			})
			rec = sr
		case recRR:
			var rr core.ReceiverReport
			err = eachField(f.b, func(f field) error {
				var err error
				switch f.num {
				case 1:
					rr.SSRC = uint32(f.v)
				case 2:
					rr.Reports, err = appendDecodedReport(rr.Reports, f.b)
				}
				return err
			})
			rec = rr
		case recSDES:
			var sdes core.SourceDescription
			err = eachField(f.b, func(f field) error {
				if f.num != 1 {
					return nil
				}
				chunk, err := decodeChunk(f.b)
				sdes.Chunks = append(sdes.Chunks, chunk)
				return err
			})
			rec = sdes
		case recBYE:
			var bye core.Goodbye
			err = eachField(f.b, func(f field) error {
				var err error
				switch f.num {
				case 1:
					bye.Sources, err = f.uint32s(bye.Sources)
				case 2:
					bye.Reason = string(f.b)
				}
				return err
			})
			rec = bye
		case recOther:
			var other core.OtherRecord
			err = eachField(f.b, func(f field) error {
				switch f.num {
				case 1:
					other.PacketType = uint8(f.v)
				case 2:
					other.Name = string(f.b)
				}
				return nil
			})
			rec = other
		}
		return err
	})
	return rec, err
}

func appendReports(b []byte, num protowire.Number, reports []core.ReceptionReport) []byte {
	for _, r := range reports {
		m := appendVarint(nil, 1, uint64(r.SSRC))
		m = appendVarint(m, 2, uint64(r.FractionLost))
		m = appendVarint(m, 3, uint64(r.TotalLost))
		m = appendVarint(m, 4, uint64(r.LastSequenceNumber))
		m = appendVarint(m, 5, uint64(r.Jitter))
		m = appendVarint(m, 6, uint64(r.LastSenderReport))
		m = appendVarint(m, 7, uint64(r.Delay))
		b = appendMessage(b, num, m)
	}
	return b
}

func appendDecodedReport(dst []core.ReceptionReport, b []byte) ([]core.ReceptionReport, error) {
	var r core.ReceptionReport
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			r.SSRC = uint32(f.v)
		case 2:
			r.FractionLost = uint8(f.v)
		case 3:
			r.TotalLost = uint32(f.v)
		case 4:
			r.LastSequenceNumber = uint32(f.v)
		case 5:
			r.Jitter = uint32(f.v)
		case 6:
			r.LastSenderReport = uint32(f.v)
		case 7:
			r.Delay = uint32(f.v)
		}
		return nil
	})
	return append(dst, r), err
}

func decodeChunk(b []byte) (core.SdesChunk, error) {
	var c core.SdesChunk
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			c.Source = uint32(f.v)
		case 2:
			var it core.SdesItem
			err := eachField(f.b, func(f field) error {
				switch f.num {
				case 1:
					it.Type = uint8(f.v)
				case 2:
					it.Text = string(f.b)
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.Items = append(c.Items, it)
		}
		return nil
	})
	return c, err
}

func appendSource(b []byte, s core.Source) []byte {
	b = appendVarint(b, 1, uint64(s.Kind))
	return appendString(b, 2, s.Name)
}

func decodeSource(b []byte) (core.Source, error) {
	var s core.Source
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			s.Kind = core.SourceKind(f.v)
		case 2:
			s.Name = string(f.b)
		}
		return nil
	})
	return s, err
}

func appendStreamKey(b []byte, k core.StreamKey) []byte {
	b = appendMessage(b, 1, appendEndpoint(nil, k.Source))
	b = appendMessage(b, 2, appendEndpoint(nil, k.Destination))
	b = appendVarint(b, 3, uint64(k.Transport))
	return appendVarint(b, 4, uint64(k.SSRC))
}

func decodeStreamKey(b []byte) (core.StreamKey, error) {
	var k core.StreamKey
	err := eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			k.Source, err = decodeEndpoint(f.b)
		case 2:
			k.Destination, err = decodeEndpoint(f.b)
		case 3:
			k.Transport = core.TransportProtocol(f.v)
		case 4:
			k.SSRC = uint32(f.v)
		}
		return err
	})
	return k, err
}

func appendFormat(b []byte, pt uint8, f core.PayloadFormat) []byte {
	// Payload type 0 is meaningful, so it is always written.
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(pt))
	b = appendString(b, 2, f.Name)
	b = appendVarint(b, 3, uint64(f.ClockRate))
	return appendVarint(b, 4, uint64(f.Channels))
}

func decodeFormat(b []byte) (uint8, core.PayloadFormat, error) {
	var pt uint8
	var pf core.PayloadFormat
	err := eachField(b, func(f field) error {
		switch f.num {
		case 1:
			pt = uint8(f.v)
		case 2:
			pf.Name = string(f.b)
		case 3:
			pf.ClockRate = uint32(f.v)
		case 4:
			pf.Channels = uint16(f.v)
		}
		return nil
	})
	return pt, pf, err
}
