// Package viewer implements the client side of the sync protocol: it keeps a
// local flow registry in step with a server's packet log.
package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"firestige.xyz/rtpscope/internal/core"
	"firestige.xyz/rtpscope/internal/flow"
	"firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/metrics"
	"firestige.xyz/rtpscope/internal/wire"
)

// Client is a connected viewer.
type Client struct {
	conn   net.Conn
	logger log.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	registry *flow.Registry
	sources  []core.Source
	resets   int
}

// Dial connects to a server.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger log.Logger) (*Client, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, logger log.Logger) *Client {
	return &Client{
		conn:     conn,
		logger:   logger,
		registry: flow.NewRegistry(),
	}
}

// Run applies responses until the server closes the connection, a framing
// error occurs or ctx is cancelled. A clean close returns nil.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	r := bufio.NewReader(c.conn)
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read from server: %w", err)
		}

		resp, err := wire.UnmarshalResponse(frame)
		if err != nil {
			metrics.WireDecodeErrorsTotal.WithLabelValues("response").Inc()
			c.logger.WithError(err).Warn("discarding malformed response")
			continue
		}
		c.apply(resp)
	}
}

func (c *Client) apply(resp wire.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch r := resp.(type) {
	case wire.PacketResponse:
		c.registry.AddPacket(r.Packet)
	case wire.SdpResponse:
		c.registry.SetSdp(r.Key, r.Sdp)
	case wire.SourcesResponse:
		c.sources = r.Sources
	case wire.ResetResponse:
		c.registry.Clear()
		c.resets++
	}
}

// View calls fn with the local registry held still.
func (c *Client) View(fn func(r *flow.Registry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.registry)
}

// Sources returns the capture sources last offered by the server.
func (c *Client) Sources() []core.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Source(nil), c.sources...)
}

// Resets returns how many times the server cleared its log.
func (c *Client) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Send writes one request.
func (c *Client) Send(req wire.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteRequest(c.conn, req)
}

// FetchAll drops the local packets and asks for the whole log again.
func (c *Client) FetchAll() error {
	c.mu.Lock()
	c.registry.ClearPackets()
	c.mu.Unlock()
	return c.Send(wire.FetchAllRequest{})
}

// Reparse asks the server to reclassify one packet.
func (c *Client) Reparse(id uint64, proto core.SessionProtocol) error {
	return c.Send(wire.ReparseRequest{PacketID: id, Protocol: proto})
}

// ChangeSource asks the server to switch capture source.
func (c *Client) ChangeSource(src core.Source) error {
	return c.Send(wire.ChangeSourceRequest{Source: src})
}

// SetSdp attaches a session description to a stream.
func (c *Client) SetSdp(key core.StreamKey, sdp string) error {
	return c.Send(wire.SetSdpRequest{Key: key, Sdp: sdp})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
