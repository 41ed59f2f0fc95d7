//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
)

// afpacketCapturer reads from a TPACKET_V3 ring. The filter is attached to
// the socket.
type afpacketCapturer struct {
	handle *afpacket.TPacket
}

func openAFPacket(device string, opts Options) (*afpacketCapturer, error) {
	frameSize, blockSize, numBlocks, err := ringSize(opts.BufferMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open AF_PACKET socket on %s: %w", device, err)
	}

	if opts.BPFFilter != "" {
		raw, err := compileFilter(layers.LinkTypeEthernet, frameSize, opts.BPFFilter)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to attach BPF filter: %w", err)
		}
	}

	return &afpacketCapturer{handle: tp}, nil
}

func (c *afpacketCapturer) Next() (Frame, error) {
	data, ci, err := c.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, err
	}
	return Frame{Data: data, Timestamp: ci.Timestamp, Length: uint32(ci.Length)}, nil
}

func (c *afpacketCapturer) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (c *afpacketCapturer) Close() error {
	c.handle.Close()
	return nil
}
