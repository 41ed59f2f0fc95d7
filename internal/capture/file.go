package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapngMagic is the section header block type that starts every pcapng file.
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// fileCapturer reads a pcap or pcapng file. The filter runs in user space.
type fileCapturer struct {
	f      *os.File
	r      packetReader
	filter *filterVM
}

func openFile(path string, opts Options) (*fileCapturer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file header: %w", err)
	}

	var r packetReader
	if bytes.Equal(magic, pcapngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}

	c := &fileCapturer{f: f, r: r}
	if opts.BPFFilter != "" {
		c.filter, err = newFilterVM(r.LinkType(), opts.SnapLen, opts.BPFFilter)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	return c, nil
}

// Next returns the next frame passing the filter, or io.EOF at the end.
// A record cut short by the end of the file is an error, not io.EOF.
func (c *fileCapturer) Next() (Frame, error) {
	for {
		data, ci, err := c.r.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			if err == io.ErrUnexpectedEOF {
				return Frame{}, fmt.Errorf("capture file truncated: %w", err)
			}
			return Frame{}, fmt.Errorf("failed to read packet: %w", err)
		}
		if c.filter != nil && !c.filter.match(data) {
			continue
		}
		return Frame{Data: data, Timestamp: ci.Timestamp, Length: uint32(ci.Length)}, nil
	}
}

func (c *fileCapturer) LinkType() layers.LinkType {
	return c.r.LinkType()
}

func (c *fileCapturer) Close() error {
	return c.f.Close()
}
