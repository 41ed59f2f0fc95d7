package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// liveCapturer reads from a libpcap handle. The filter runs in the kernel.
type liveCapturer struct {
	handle *pcap.Handle
}

func openLive(device string, opts Options) (*liveCapturer, error) {
	handle, err := pcap.OpenLive(device, int32(opts.SnapLen), opts.Promiscuous, opts.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", device, err)
	}

	if opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(opts.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", opts.BPFFilter, err)
		}
	}

	return &liveCapturer{handle: handle}, nil
}

func (c *liveCapturer) Next() (Frame, error) {
	data, ci, err := c.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, err
	}
	return Frame{Data: data, Timestamp: ci.Timestamp, Length: uint32(ci.Length)}, nil
}

func (c *liveCapturer) LinkType() layers.LinkType {
	return c.handle.LinkType()
}

func (c *liveCapturer) Close() error {
	c.handle.Close()
	return nil
}
