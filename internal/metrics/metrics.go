// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts raw frames read from the capture source
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_capture_frames_total",
			Help: "Total number of frames read from the capture source",
		},
		[]string{"source"},
	)

	// CaptureSessionsTotal counts finished capture sessions by how they ended
	CaptureSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_capture_sessions_total",
			Help: "Total number of capture sessions by end reason",
		},
		[]string{"reason"}, // eof | error | stopped | open_failed
	)

	// DecodeFailuresTotal counts structural decode failures by stage
	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_decode_failures_total",
			Help: "Total number of frames or payloads that failed to decode",
		},
		[]string{"stage"}, // frame
	)

	// PacketsClassifiedTotal counts packets by session protocol
	PacketsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_packets_classified_total",
			Help: "Total number of decoded packets by session protocol",
		},
		[]string{"protocol"},
	)

	// PacketLogSize tracks the number of packets held by the hub
	PacketLogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtpscope_packet_log_size",
			Help: "Current number of packets in the authoritative packet log",
		},
	)

	// ViewersConnected tracks connected viewers
	ViewersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtpscope_viewers_connected",
			Help: "Current number of connected viewers",
		},
	)

	// MessagesSentTotal counts responses written to viewers by type
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_messages_sent_total",
			Help: "Total number of responses delivered to viewers",
		},
		[]string{"type"},
	)

	// SendFailuresTotal counts responses that could not be delivered
	SendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtpscope_send_failures_total",
			Help: "Total number of responses dropped because the viewer went away",
		},
	)

	// WireDecodeErrorsTotal counts discarded malformed messages
	WireDecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_wire_decode_errors_total",
			Help: "Total number of malformed wire messages discarded",
		},
		[]string{"direction"}, // request | response
	)

	// ReparseTotal counts reclassification requests by outcome
	ReparseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_reparse_total",
			Help: "Total number of reparse requests by result",
		},
		[]string{"result"}, // applied | failed | not_found
	)

	// StreamsTracked tracks streams known to the shared analysis observer
	StreamsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtpscope_streams_tracked",
			Help: "Current number of media streams tracked by the server",
		},
	)

	// StreamJitterSeconds exposes the current jitter of each tracked stream
	StreamJitterSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtpscope_stream_jitter_seconds",
			Help: "Current interarrival jitter per stream",
		},
		[]string{"stream"},
	)

	// StreamLossPercent exposes the loss percentage of each tracked stream
	StreamLossPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtpscope_stream_loss_percent",
			Help: "Current packet loss percentage per stream",
		},
		[]string{"stream"},
	)

	// HTTPRequestsTotal counts API requests by status class
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtpscope_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"code"},
	)
)
