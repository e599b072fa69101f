// ABOUTME: Relay engine routing frames between producers and consumers
// ABOUTME: Audio fans out to consumers, commands fan out to producers, status to everyone
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Sendspin/micrelay/internal/metrics"
	"github.com/Sendspin/micrelay/pkg/audio"
	"github.com/Sendspin/micrelay/pkg/audio/decode"
	"github.com/Sendspin/micrelay/pkg/protocol"
)

// Forward modes for PCM audio sent to consumers
const (
	ForwardRaw  = "raw"  // the producer's binary frame, unchanged
	ForwardJSON = "json" // {type:"audio", seq, sampleRate, data:[...]}
)

// NoProducersMessage is sent to a consumer whose command has no recipient
const NoProducersMessage = "No ESP32 devices connected"

// RelayConfig configures routing behaviour
type RelayConfig struct {
	// ForwardMode is ForwardRaw (default) or ForwardJSON
	ForwardMode string

	// StatusEveryPackets triggers a status broadcast every N audio packets (default: 100)
	StatusEveryPackets int

	// SampleRate is the producer capture rate, used for JSON frames and Opus (default: 16000)
	SampleRate int

	// ADPCMContinuous keeps each producer's ADPCM predictor across packets
	ADPCMContinuous bool

	// OpusBitrate for consumers that ask for Opus; 0 keeps the libopus default
	OpusBitrate int

	Classifier Classifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Relay routes messages between registered connections
type Relay struct {
	config     RelayConfig
	registry   *Registry
	classifier Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	statusDirty atomic.Bool
}

// NewRelay creates a relay over registry, filling config defaults
func NewRelay(registry *Registry, config RelayConfig) *Relay {
	if config.ForwardMode == "" {
		config.ForwardMode = ForwardRaw
	}
	if config.StatusEveryPackets <= 0 {
		config.StatusEveryPackets = 100
	}
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.Classifier == nil {
		config.Classifier = DefaultClassifier()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New(nil)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Relay{
		config:     config,
		registry:   registry,
		classifier: config.Classifier,
		metrics:    config.Metrics,
		logger:     config.Logger,
	}
}

// Registry returns the registry the relay routes over
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Connect registers a new connection, applies the user-agent heuristic and
// broadcasts status
func (r *Relay) Connect(c *Conn) {
	c.adpcm = decode.NewADPCM(decode.ADPCMConfig{ContinuousMode: r.config.ADPCMContinuous})

	if role, ok := r.classifier.FromUserAgent(c.UserAgent); ok {
		c.classify(role, false)
	}

	r.registry.Register(c)
	r.metrics.RecordConnectionOpened()
	r.logger.Info("connection registered",
		"conn", c.ID, "remote", c.RemoteAddr, "role", c.Role())

	r.statusDirty.Store(true)
	r.flushStatus()
}

// Disconnect unregisters a closed connection and broadcasts status
func (r *Relay) Disconnect(c *Conn, reason string) {
	r.remove(c, reason)
	r.flushStatus()
}

// Evict closes and unregisters a connection from outside the read path
func (r *Relay) Evict(c *Conn, reason string) {
	r.Disconnect(c, reason)
}

// CloseAll closes every connection without broadcasting status
func (r *Relay) CloseAll() {
	for _, c := range r.registry.Snapshot() {
		if _, ok := r.registry.Unregister(c.ID); ok {
			_ = c.transport.Close()
			c.closeOpus()
			r.metrics.RecordConnectionClosed("shutdown")
		}
	}
}

// HandlePong records a liveness response
func (r *Relay) HandlePong(c *Conn) {
	if err := r.registry.MarkAlive(c.ID); err != nil {
		r.logger.Debug("pong from unregistered connection", "conn", c.ID)
	}
}

// HandleMessage routes one inbound message. It never fails; malformed or
// unexpected input is logged and dropped.
func (r *Relay) HandleMessage(c *Conn, binary bool, data []byte) {
	defer r.flushStatus()

	c.bytesIn.Add(uint64(len(data)))
	in := protocol.Decode(binary, data)

	switch in.Kind {
	case protocol.KindAudio:
		r.handleAudio(c, in)
	case protocol.KindCompressedAudio:
		r.handleCompressed(c, in)
	case protocol.KindCommand:
		r.handleCommand(c, in.Command)
	case protocol.KindHello:
		r.handleHello(c, in.Hello)
	case protocol.KindDeviceInfo:
		r.handleDeviceInfo(c, in)
	case protocol.KindTelemetry:
		r.handleTelemetry(c, in)
	case protocol.KindUnknown:
		r.handleUnknown(c, binary, in)
	}
}

func (r *Relay) handleAudio(c *Conn, in protocol.Inbound) {
	if !r.promote(c, RoleProducer) {
		r.logger.Debug("ignoring audio from consumer", "conn", c.ID)
		return
	}

	pkt := in.Packet
	r.checkPacket(c, pkt)
	c.packetsIn.Add(1)
	r.metrics.RecordAudioPacket(audio.CodecPCM, len(in.Raw))

	r.forward(c, pkt.Sequence, pkt.Samples, in.Raw)
	r.countPacket()
}

func (r *Relay) handleCompressed(c *Conn, in protocol.Inbound) {
	if !r.promote(c, RoleProducer) {
		r.logger.Debug("ignoring audio from consumer", "conn", c.ID)
		return
	}

	frame := in.Frame
	n := int(frame.SampleCount)
	payload := frame.Payload
	truncated := false
	if need := (n + 1) / 2; len(payload) < need {
		truncated = true
		n = len(payload) * 2
	} else {
		payload = payload[:need]
	}

	start := time.Now()
	samples, err := c.adpcm.Decode(payload)
	r.metrics.ObserveADPCMDecode(time.Since(start))
	if err != nil {
		r.metrics.RecordParseError("adpcm_decode")
		r.logger.Warn("adpcm decode failed", "conn", c.ID, "seq", frame.Sequence, "err", err)
		return
	}
	samples = samples[:n]

	pkt := &protocol.AudioPacket{
		Header:    frame.Header,
		Samples:   samples,
		Truncated: truncated,
		Computed:  protocol.Checksum(samples),
	}
	r.checkPacket(c, pkt)
	c.packetsIn.Add(1)
	r.metrics.RecordAudioPacket(audio.CodecADPCM, len(in.Raw))

	r.forward(c, frame.Sequence, samples, nil)
	r.countPacket()
}

// checkPacket logs degraded packets; neither condition rejects the packet
func (r *Relay) checkPacket(c *Conn, pkt *protocol.AudioPacket) {
	if pkt.Truncated {
		r.metrics.RecordTruncated()
		r.logger.Warn("truncated audio packet",
			"conn", c.ID, "seq", pkt.Sequence, "declared", pkt.SampleCount, "samples", len(pkt.Samples))
	}
	if pkt.ChecksumMismatch() {
		r.metrics.RecordChecksumMismatch()
		r.logger.Warn("audio checksum mismatch",
			"conn", c.ID, "seq", pkt.Sequence, "header", pkt.Checksum, "computed", pkt.Computed)
	}
}

func (r *Relay) countPacket() {
	if n := r.registry.RecordAudioPacket(); n%uint64(r.config.StatusEveryPackets) == 0 {
		r.statusDirty.Store(true)
	}
}

// forward sends one packet's samples to every consumer except the sender.
// raw is the original PCM frame, or nil when it must be re-encoded.
func (r *Relay) forward(sender *Conn, seq uint16, samples []int16, raw []byte) {
	var jsonFrame []byte

	sendPCM := func(c *Conn) {
		if raw == nil {
			if len(samples) == 0 {
				return
			}
			frame, err := protocol.Encode(seq, samples)
			if err != nil {
				r.logger.Warn("failed to frame audio", "seq", seq, "err", err)
				return
			}
			raw = frame
		}
		if r.send(c, true, raw) {
			r.metrics.RecordForwarded(audio.CodecPCM)
		}
	}

	isTarget := func(c *Conn) bool {
		return c != sender && IsConsumer(c)
	}

	r.registry.ForEach(isTarget, func(c *Conn) {
		if c.Codec() == audio.CodecOpus && r.sendOpus(c, samples) {
			return
		}

		if r.config.ForwardMode == ForwardJSON {
			if jsonFrame == nil {
				data, err := json.Marshal(protocol.AudioJSON{
					Type:       protocol.TypeAudioJSON,
					Format:     audio.CodecPCM,
					SampleRate: r.config.SampleRate,
					Seq:        seq,
					Data:       samples,
				})
				if err != nil {
					r.logger.Warn("failed to marshal audio", "err", err)
					return
				}
				jsonFrame = data
			}
			if r.send(c, false, jsonFrame) {
				r.metrics.RecordForwarded("json")
			}
			return
		}

		sendPCM(c)
	})
}

// sendOpus feeds samples into the consumer's Opus downlink. It returns false
// when Opus is unavailable and the consumer was switched to PCM.
func (r *Relay) sendOpus(c *Conn, samples []int16) bool {
	frames, err := c.opusFrames(samples, r.config.SampleRate, r.config.OpusBitrate)
	if errors.Is(err, errOpusUnavailable) {
		r.logger.Warn("opus downlink unavailable, falling back to pcm", "conn", c.ID, "err", err)
		c.setCodec(audio.CodecPCM)
		return false
	}
	if err != nil {
		r.metrics.RecordOpusEncodeError()
		r.logger.Warn("opus encode failed", "conn", c.ID, "err", err)
	}

	for _, f := range frames {
		if !r.send(c, true, f) {
			return true
		}
		r.metrics.RecordForwarded(audio.CodecOpus)
	}
	return true
}

func (r *Relay) handleCommand(c *Conn, action string) {
	if c.Role() == RoleProducer {
		r.metrics.RecordCommand("producer", "ignored")
		r.logger.Debug("ignoring command from producer", "conn", c.ID, "action", action)
		return
	}
	r.promote(c, RoleConsumer)

	if !protocol.IsCommand(action) {
		r.metrics.RecordCommand("unknown", "rejected")
		r.sendJSON(c, protocol.NewError(fmt.Sprintf("Unknown command: %s", action)))
		return
	}

	targets, delivered := 0, 0
	r.registry.ForEach(IsProducer, func(p *Conn) {
		targets++
		if r.send(p, false, []byte(action)) {
			delivered++
		}
	})

	if targets == 0 {
		r.metrics.RecordCommand(action, "no_producer")
		r.logger.Info("command without producers", "conn", c.ID, "action", action)
		r.sendJSON(c, protocol.NewError(NoProducersMessage))
		return
	}

	r.metrics.RecordCommand(action, "forwarded")
	r.logger.Info("command forwarded", "conn", c.ID, "action", action, "producers", delivered)
}

func (r *Relay) handleHello(c *Conn, hello *protocol.Hello) {
	role, ok := r.classifier.FromHello(hello)
	if !ok {
		r.logger.Debug("hello from unknown client type", "conn", c.ID, "client", hello.Client)
		return
	}

	if c.classify(role, true) {
		r.statusDirty.Store(true)
	}

	codec := audio.CodecPCM
	if role == RoleConsumer && hello.Codec == audio.CodecOpus {
		codec = audio.CodecOpus
	}
	c.mu.Lock()
	c.name = hello.Name
	c.codec = codec
	c.mu.Unlock()

	r.logger.Info("connection identified",
		"conn", c.ID, "role", role, "name", hello.Name, "codec", codec)

	r.sendJSON(c, protocol.Welcome{Type: protocol.TypeWelcome, ID: c.ID, Role: role.String()})
}

func (r *Relay) handleDeviceInfo(c *Conn, in protocol.Inbound) {
	if c.classify(RoleProducer, true) {
		r.statusDirty.Store(true)
	}

	c.mu.Lock()
	c.device = in.DeviceInfo
	if c.name == "" {
		c.name = in.DeviceInfo.Device
	}
	c.mu.Unlock()

	r.logger.Info("device info",
		"conn", c.ID, "device", in.DeviceInfo.Device, "mac", in.DeviceInfo.MAC,
		"ip", in.DeviceInfo.IP, "rssi", in.DeviceInfo.RSSI, "version", in.DeviceInfo.Version)

	r.relayText(c, in.Raw)
}

// handleTelemetry passes device notices (info, mic_status, legacy JSON
// audio) through to consumers
func (r *Relay) handleTelemetry(c *Conn, in protocol.Inbound) {
	if !r.promote(c, RoleProducer) {
		r.logger.Debug("ignoring telemetry from consumer", "conn", c.ID, "type", in.Type)
		return
	}
	if in.Type == protocol.TypeAudioJSON {
		c.packetsIn.Add(1)
		r.countPacket()
	}
	r.relayText(c, in.Raw)
}

func (r *Relay) handleUnknown(c *Conn, binary bool, in protocol.Inbound) {
	if binary {
		r.metrics.RecordParseError(parseReason(in.Err))
		r.logger.Debug("dropping malformed frame", "conn", c.ID, "bytes", len(in.Raw), "err", in.Err)
		return
	}
	r.logger.Debug("ignoring message", "conn", c.ID, "type", in.Type, "err", in.Err)
}

func (r *Relay) relayText(sender *Conn, data []byte) {
	r.registry.ForEach(func(c *Conn) bool {
		return c != sender && IsConsumer(c)
	}, func(c *Conn) {
		r.send(c, false, data)
	})
}

// promote applies a heuristic role and reports whether c now holds it
func (r *Relay) promote(c *Conn, role Role) bool {
	if c.classify(role, false) {
		r.statusDirty.Store(true)
		r.logger.Info("connection reclassified", "conn", c.ID, "role", role)
	}
	return c.Role() == role
}

// send delivers one frame. A full buffer drops the frame; any other
// failure unregisters the peer.
func (r *Relay) send(c *Conn, binary bool, data []byte) bool {
	var err error
	if binary {
		err = c.transport.SendBinary(data)
	} else {
		err = c.transport.SendText(data)
	}

	switch {
	case err == nil:
		c.framesOut.Add(1)
		return true
	case errors.Is(err, ErrSendBufferFull):
		c.dropped.Add(1)
		r.metrics.RecordDropped()
		return false
	default:
		r.logger.Warn("send failed, dropping connection", "conn", c.ID, "err", err)
		r.remove(c, "send_failed")
		return false
	}
}

func (r *Relay) sendJSON(c *Conn, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("failed to marshal message", "err", err)
		return false
	}
	return r.send(c, false, data)
}

// remove unregisters and closes c. The status broadcast is deferred to the
// next flush so removals inside a broadcast loop do not recurse.
func (r *Relay) remove(c *Conn, reason string) bool {
	if _, ok := r.registry.Unregister(c.ID); !ok {
		return false
	}

	_ = c.transport.Close()
	c.closeOpus()

	r.metrics.RecordConnectionClosed(reason)
	r.logger.Info("connection removed", "conn", c.ID, "role", c.Role(), "reason", reason)

	r.statusDirty.Store(true)
	return true
}

func parseReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTooSmall):
		return "too_small"
	case errors.Is(err, protocol.ErrBadMagicOrType):
		return "bad_magic_or_type"
	case errors.Is(err, protocol.ErrInvalidSampleCount):
		return "invalid_sample_count"
	default:
		return "other"
	}
}
