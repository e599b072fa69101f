// ABOUTME: Prometheus metrics for the relay
// ABOUTME: Connection, audio, routing and liveness counters on a dedicated registry
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	Connections       *prometheus.GaugeVec
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec

	// Audio metrics
	AudioPackets     *prometheus.CounterVec
	AudioBytes       prometheus.Counter
	ParseErrors      *prometheus.CounterVec
	ChecksumMismatch prometheus.Counter
	TruncatedPackets prometheus.Counter
	ADPCMDecodeTime  prometheus.Histogram
	OpusEncodeErrors prometheus.Counter

	// Routing metrics
	FramesForwarded *prometheus.CounterVec
	FramesDropped   prometheus.Counter
	Commands        *prometheus.CounterVec

	// Liveness metrics
	LivenessTerminations prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on reg. A nil reg gets a fresh registry so
// several relays can live in one process.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "micrelay_connections",
			Help: "Current number of connections by role",
		}, []string{"role"}),
		ConnectionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_connections_opened_total",
			Help: "Total number of accepted WebSocket connections",
		}),
		ConnectionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micrelay_connections_closed_total",
			Help: "Total number of closed connections by reason",
		}, []string{"reason"}),

		AudioPackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micrelay_audio_packets_total",
			Help: "Total number of audio packets accepted from producers",
		}, []string{"codec"}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_audio_bytes_total",
			Help: "Total bytes of audio frames accepted from producers",
		}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micrelay_parse_errors_total",
			Help: "Total number of rejected inbound messages by reason",
		}, []string{"reason"}),
		ChecksumMismatch: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_checksum_mismatch_total",
			Help: "Total number of packets whose advisory checksum did not match",
		}),
		TruncatedPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_truncated_packets_total",
			Help: "Total number of packets shorter than their header declared",
		}),
		ADPCMDecodeTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "micrelay_adpcm_decode_seconds",
			Help:    "Time spent decoding one ADPCM frame",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 8), // 1µs to ~16ms
		}),
		OpusEncodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_opus_encode_errors_total",
			Help: "Total number of failed Opus downlink encodes",
		}),

		FramesForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micrelay_frames_forwarded_total",
			Help: "Total number of frames sent to consumers by downlink codec",
		}, []string{"codec"}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_frames_dropped_total",
			Help: "Total number of frames dropped on full send buffers",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micrelay_commands_total",
			Help: "Total number of consumer commands by action and result",
		}, []string{"action", "result"}),

		LivenessTerminations: f.NewCounter(prometheus.CounterOpts{
			Name: "micrelay_liveness_terminations_total",
			Help: "Total number of connections closed for missing a pong",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "micrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry returns the Prometheus registry holding these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetConnections records current connection counts
func (m *Metrics) SetConnections(producers, consumers, unclassified int) {
	m.Connections.WithLabelValues("producer").Set(float64(producers))
	m.Connections.WithLabelValues("consumer").Set(float64(consumers))
	m.Connections.WithLabelValues("unclassified").Set(float64(unclassified))
}

// RecordConnectionOpened increments the accepted connections counter
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsOpened.Inc()
}

// RecordConnectionClosed increments the closed connections counter
func (m *Metrics) RecordConnectionClosed(reason string) {
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
}

// RecordAudioPacket counts one accepted audio frame
func (m *Metrics) RecordAudioPacket(codec string, bytes int) {
	m.AudioPackets.WithLabelValues(codec).Inc()
	m.AudioBytes.Add(float64(bytes))
}

// RecordParseError counts one rejected inbound message
func (m *Metrics) RecordParseError(reason string) {
	m.ParseErrors.WithLabelValues(reason).Inc()
}

// RecordChecksumMismatch counts one advisory checksum failure
func (m *Metrics) RecordChecksumMismatch() {
	m.ChecksumMismatch.Inc()
}

// RecordTruncated counts one truncated packet
func (m *Metrics) RecordTruncated() {
	m.TruncatedPackets.Inc()
}

// ObserveADPCMDecode records ADPCM decode latency
func (m *Metrics) ObserveADPCMDecode(d time.Duration) {
	m.ADPCMDecodeTime.Observe(d.Seconds())
}

// RecordOpusEncodeError counts one failed downlink encode
func (m *Metrics) RecordOpusEncodeError() {
	m.OpusEncodeErrors.Inc()
}

// RecordForwarded counts frames sent to consumers
func (m *Metrics) RecordForwarded(codec string) {
	m.FramesForwarded.WithLabelValues(codec).Inc()
}

// RecordDropped counts frames dropped on backpressure
func (m *Metrics) RecordDropped() {
	m.FramesDropped.Inc()
}

// RecordCommand counts a consumer command and how it was handled
func (m *Metrics) RecordCommand(action, result string) {
	m.Commands.WithLabelValues(action, result).Inc()
}

// RecordLivenessTermination counts a connection closed by the liveness monitor
func (m *Metrics) RecordLivenessTermination() {
	m.LivenessTerminations.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
