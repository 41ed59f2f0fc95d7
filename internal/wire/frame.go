package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"firestige.xyz/rtpscope/internal/core"
)

const (
	frameHeaderSize = 4

	// MaxFrameSize bounds a single message.
	MaxFrameSize = 16 << 20
)

// WriteFrame writes payload behind a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", core.ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. A clean close between frames
// returns io.EOF; a close inside a frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// WriteResponse encodes and frames one response.
func WriteResponse(w io.Writer, resp Response) error {
	b, err := MarshalResponse(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// WriteRequest encodes and frames one request.
func WriteRequest(w io.Writer, req Request) error {
	b, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}
