package hub

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"firestige.xyz/rtpscope/internal/log"
	"firestige.xyz/rtpscope/internal/metrics"
	"firestige.xyz/rtpscope/internal/wire"
)

// viewer is one connected client. Its reader and writer share ctx; either
// side ending cancels the other.
type viewer struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	conn   io.ReadWriteCloser
	out    *outbox
	logger log.Logger
}

func newViewer(ctx context.Context, cancel context.CancelFunc, id uint64, conn io.ReadWriteCloser, logger log.Logger) *viewer {
	return &viewer{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		out:    newOutbox(),
		logger: logger,
	}
}

func (v *viewer) readLoop(h *Hub) {
	r := bufio.NewReader(v.conn)
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && v.ctx.Err() == nil {
				v.logger.WithError(err).Debug("viewer read failed")
			}
			return
		}

		req, err := wire.UnmarshalRequest(frame)
		if err != nil {
			metrics.WireDecodeErrorsTotal.WithLabelValues("request").Inc()
			v.logger.WithError(err).Warn("discarding malformed request")
			continue
		}
		h.handle(v, req)
	}
}

func (v *viewer) writeLoop() {
	w := bufio.NewWriter(v.conn)
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-v.out.notify:
		}

		batch := v.out.drain()
		for i, resp := range batch {
			if err := wire.WriteResponse(w, resp); err != nil {
				v.fail(err, len(batch)-i)
				return
			}
			metrics.MessagesSentTotal.WithLabelValues(responseType(resp)).Inc()
		}
		if err := w.Flush(); err != nil {
			v.fail(err, 0)
			return
		}
	}
}

func (v *viewer) fail(err error, dropped int) {
	metrics.SendFailuresTotal.Add(float64(dropped))
	if v.ctx.Err() == nil {
		v.logger.WithError(err).Debug("viewer write failed")
	}
	v.cancel()
}

func responseType(resp wire.Response) string {
	switch resp.(type) {
	case wire.PacketResponse:
		return "packet"
	case wire.SourcesResponse:
		return "sources"
	case wire.SdpResponse:
		return "sdp"
	case wire.ResetResponse:
		return "reset"
	default:
		return fmt.Sprintf("%T", resp)
	}
}
