// Package decoder implements L2-L4 protocol stack decoding.
package decoder

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/rtpscope/internal/core"
)

// Decoder turns captured frames into structural packets.
// A Decoder is not safe for concurrent use: the layer structs are reused
// between calls to avoid allocations on the capture path.
type Decoder struct {
	linkType layers.LinkType

	// parser handles every link type except raw IP, which needs one parser
	// per IP version because the first layer is only known per frame.
	parser   *gopacket.DecodingLayerParser
	parserV6 *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	sll     layers.LinuxSLL
	loop    layers.Loopback
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload

	decoded []gopacket.LayerType
}

// New creates a decoder for frames of the given link type.
func New(linkType layers.LinkType) (*Decoder, error) {
	first, err := firstLayer(linkType)
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		linkType: linkType,
		decoded:  make([]gopacket.LayerType, 0, 8),
	}
	d.parser = d.newParser(first)
	if first == layers.LayerTypeIPv4 && isRawIP(linkType) {
		d.parserV6 = d.newParser(layers.LayerTypeIPv6)
	}
	return d, nil
}

func (d *Decoder) newParser(first gopacket.LayerType) *gopacket.DecodingLayerParser {
	p := gopacket.NewDecodingLayerParser(
		first,
		&d.eth,
		&d.dot1q,
		&d.sll,
		&d.loop,
		&d.ip4,
		&d.ip6,
		&d.tcp,
		&d.udp,
		&d.payload,
	)
	p.IgnoreUnsupported = true
	return p
}

// LinkType returns the link type this decoder was built for.
func (d *Decoder) LinkType() layers.LinkType {
	return d.linkType
}

// Decode parses one frame. length is the original on-wire frame length
// (0 means len(data)), ts the arrival time since capture start and id the
// packet id to assign. It returns false when the frame has no IP layer, no
// TCP/UDP layer, or its headers cannot be parsed.
func (d *Decoder) Decode(data []byte, length uint32, ts time.Duration, id uint64) (core.Packet, bool) {
	if len(data) == 0 {
		return core.Packet{}, false
	}

	parser := d.parser
	if d.parserV6 != nil && data[0]>>4 == 6 {
		parser = d.parserV6
	}

	d.decoded = d.decoded[:0]
	if err := parser.DecodeLayers(data, &d.decoded); err != nil {
		return core.Packet{}, false
	}

	if length == 0 {
		length = uint32(len(data))
	}
	pkt := core.Packet{
		ID:        id,
		Timestamp: ts,
		Length:    length,
		Session:   core.SessionUnknown,
		Contents:  core.Unknown{},
	}

	var haveIP, haveTransport bool
	var payload []byte
	for _, layerType := range d.decoded {
		switch layerType {
		case layers.LayerTypeIPv4:
			src, srcOK := netip.AddrFromSlice(d.ip4.SrcIP.To4())
			dst, dstOK := netip.AddrFromSlice(d.ip4.DstIP.To4())
			if !srcOK || !dstOK {
				return core.Packet{}, false
			}
			pkt.Source.Addr, pkt.Destination.Addr = src, dst
			haveIP = true

		case layers.LayerTypeIPv6:
			src, srcOK := netip.AddrFromSlice(d.ip6.SrcIP.To16())
			dst, dstOK := netip.AddrFromSlice(d.ip6.DstIP.To16())
			if !srcOK || !dstOK {
				return core.Packet{}, false
			}
			pkt.Source.Addr, pkt.Destination.Addr = src, dst
			haveIP = true

		case layers.LayerTypeTCP:
			pkt.Transport = core.TransportTCP
			pkt.Source.Port = uint16(d.tcp.SrcPort)
			pkt.Destination.Port = uint16(d.tcp.DstPort)
			payload = d.tcp.Payload
			haveTransport = true

		case layers.LayerTypeUDP:
			pkt.Transport = core.TransportUDP
			pkt.Source.Port = uint16(d.udp.SrcPort)
			pkt.Destination.Port = uint16(d.udp.DstPort)
			payload = d.udp.Payload
			haveTransport = true
		}
	}

	if !haveIP || !haveTransport {
		return core.Packet{}, false
	}

	// Layer structs alias the frame buffer, which capture sources may reuse.
	pkt.Payload = append([]byte(nil), payload...)
	return pkt, true
}

func firstLayer(linkType layers.LinkType) (gopacket.LayerType, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL, nil
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return layers.LayerTypeLoopback, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return layers.LayerTypeIPv4, nil
	case layers.LinkTypeIPv6:
		return layers.LayerTypeIPv6, nil
	default:
		return gopacket.LayerTypeZero, fmt.Errorf("%w: link type %s", core.ErrUnsupportedProto, linkType)
	}
}

func isRawIP(linkType layers.LinkType) bool {
	return linkType == layers.LinkTypeRaw || linkType == layers.LinkTypeIPv4
}
