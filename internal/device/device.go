// ABOUTME: Simulated ESP32 microphone producer
// ABOUTME: Connects to a relay, streams framed audio and answers control commands
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/micrelay/internal/version"
	"github.com/Sendspin/micrelay/pkg/audio"
	"github.com/Sendspin/micrelay/pkg/audio/decode"
	"github.com/Sendspin/micrelay/pkg/audio/encode"
	"github.com/Sendspin/micrelay/pkg/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultFrameSamples matches the firmware's I2S read size
	DefaultFrameSamples = 512

	// DefaultReconnectInterval matches the firmware's WebSocket client
	DefaultReconnectInterval = 5 * time.Second

	// UserAgent is the header sent by the ESP32 WebSocket library
	UserAgent = "arduino-WebSocket-Client"

	writeTimeout = 5 * time.Second
)

// Config holds simulator configuration
type Config struct {
	ServerAddr string // host:port
	Path       string // defaults to /ws
	Token      string
	Name       string // reported as the device name

	// Codec is "pcm" (default) or "adpcm"
	Codec string

	// ADPCMContinuous must match the relay's decoder setting
	ADPCMContinuous bool

	SampleRate        int // default 16000
	FrameSamples      int // samples per packet, default 512
	ReconnectInterval time.Duration

	// Source supplies audio; nil uses a tone at SampleRate
	Source Source

	Logger *slog.Logger
}

// Stats counts simulator activity
type Stats struct {
	Connects   uint64
	Packets    uint64
	Commands   uint64
	MicEnabled bool
}

// Device is a simulated microphone
type Device struct {
	config Config
	logger *slog.Logger

	encoder encode.Encoder
	decoder decode.Decoder
	frame   []int16
	seq     uint16

	micEnabled atomic.Bool
	connects   atomic.Uint64
	packets    atomic.Uint64
	commands   atomic.Uint64

	writeMu sync.Mutex
}

// New creates a simulator with defaults filled in
func New(config Config) (*Device, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.Path == "" {
		config.Path = protocol.DefaultPath
	}
	if config.Codec == "" {
		config.Codec = audio.CodecPCM
	}
	if config.Codec != audio.CodecPCM && config.Codec != audio.CodecADPCM {
		return nil, fmt.Errorf("unsupported codec: %s (supported: pcm, adpcm)", config.Codec)
	}
	if config.SampleRate == 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.FrameSamples == 0 {
		config.FrameSamples = DefaultFrameSamples
	}
	if config.FrameSamples < 0 || config.FrameSamples > protocol.MaxSampleCount {
		return nil, fmt.Errorf("frame samples must be between 1 and %d, got %d", protocol.MaxSampleCount, config.FrameSamples)
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	if config.Name == "" {
		config.Name = "ESP32-sim"
	}
	if config.Source == nil {
		config.Source = NewToneSource(440, config.SampleRate)
	}
	if config.Source.SampleRate() != config.SampleRate {
		return nil, fmt.Errorf("source rate %d does not match device rate %d",
			config.Source.SampleRate(), config.SampleRate)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	d := &Device{
		config: config,
		logger: config.Logger.With("device", config.Name),
		frame:  make([]int16, config.FrameSamples),
	}
	if config.Codec == audio.CodecADPCM {
		d.encoder = encode.NewADPCM(encode.ADPCMConfig{ContinuousMode: config.ADPCMContinuous})
		d.decoder = decode.NewADPCM(decode.ADPCMConfig{ContinuousMode: config.ADPCMContinuous})
	} else {
		format := audio.Mono16(audio.CodecPCM, config.SampleRate)
		var err error
		if d.encoder, err = encode.NewPCM(format); err != nil {
			return nil, err
		}
		if d.decoder, err = decode.New(format); err != nil {
			return nil, err
		}
	}
	// The firmware enables the mic at boot when it detects one
	d.micEnabled.Store(true)
	return d, nil
}

// URL returns the WebSocket URL the device dials
func (d *Device) URL() string {
	u := url.URL{Scheme: "ws", Host: d.config.ServerAddr, Path: d.config.Path}
	if d.config.Token != "" {
		u.RawQuery = url.Values{"token": {d.config.Token}}.Encode()
	}
	return u.String()
}

// FrameInterval is the capture time covered by one packet
func (d *Device) FrameInterval() time.Duration {
	return time.Duration(d.config.FrameSamples) * time.Second / time.Duration(d.config.SampleRate)
}

// Stats returns a snapshot of the counters
func (d *Device) Stats() Stats {
	return Stats{
		Connects:   d.connects.Load(),
		Packets:    d.packets.Load(),
		Commands:   d.commands.Load(),
		MicEnabled: d.micEnabled.Load(),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting after
// every disconnect
func (d *Device) Run(ctx context.Context) error {
	for {
		err := d.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("disconnected from relay", "err", err, "retry", d.config.ReconnectInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.config.ReconnectInterval):
		}
	}
}

// session runs one connection until it fails or ctx ends
func (d *Device) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", UserAgent)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	d.connects.Add(1)
	d.logger.Info("connected to relay", "url", d.config.ServerAddr+d.config.Path, "codec", d.config.Codec)

	if err := d.announce(conn); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.readCommands(conn)
	})
	g.Go(func() error {
		return d.stream(gctx, conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks the reader
		d.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		d.writeMu.Unlock()
		conn.Close()
		return nil
	})
	return g.Wait()
}

// announce sends device_info and the firmware's connect notice
func (d *Device) announce(conn *websocket.Conn) error {
	info := protocol.DeviceInfo{
		Type:    protocol.TypeDeviceInfo,
		Device:  d.config.Name,
		Version: version.Version,
	}
	if err := d.writeJSON(conn, info); err != nil {
		return fmt.Errorf("failed to send device info: %w", err)
	}
	notice := protocol.Info{Type: protocol.TypeInfo, Message: "ESP32 microphone connected"}
	if err := d.writeJSON(conn, notice); err != nil {
		return fmt.Errorf("failed to send info: %w", err)
	}
	return nil
}

func (d *Device) readCommands(conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := d.handleText(conn, data); err != nil {
			return err
		}
	}
}

// handleText applies a command. Status broadcasts and other JSON are ignored.
func (d *Device) handleText(conn *websocket.Conn, data []byte) error {
	token := strings.TrimSpace(string(data))
	if strings.HasPrefix(token, "{") {
		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type != protocol.TypeCommand {
			return nil
		}
		token = cmd.Action
	}
	if !protocol.IsCommand(token) {
		return nil
	}

	d.commands.Add(1)
	d.logger.Debug("command received", "action", token)

	switch token {
	case protocol.CmdMicOn:
		d.micEnabled.Store(true)
	case protocol.CmdMicOff:
		d.micEnabled.Store(false)
	case protocol.CmdMicCheck:
		status := protocol.MicStatus{
			Type:      protocol.TypeMicStatus,
			Connected: true,
			Enabled:   d.micEnabled.Load(),
		}
		if err := d.writeJSON(conn, status); err != nil {
			return fmt.Errorf("failed to send mic status: %w", err)
		}
	case protocol.CmdFlash, protocol.CmdFlashOn, protocol.CmdFlashOff:
		d.logger.Info("flash", "action", token)
	}
	return nil
}

// stream sends one packet per frame interval while the mic is enabled
func (d *Device) stream(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(d.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !d.micEnabled.Load() {
			continue
		}

		frame, err := d.nextPacket()
		if err != nil {
			return err
		}
		if err := d.write(conn, websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		d.packets.Add(1)
	}
}

// nextPacket captures one frame and encodes it for the wire
func (d *Device) nextPacket() ([]byte, error) {
	n, err := d.config.Source.Read(d.frame)
	if err != nil {
		return nil, fmt.Errorf("source read failed: %w", err)
	}
	if n == 0 {
		return nil, errors.New("source returned no samples")
	}
	samples := d.frame[:n]

	seq := d.seq
	d.seq++

	payload, err := d.encoder.Encode(samples)
	if err != nil {
		return nil, err
	}
	// The checksum covers what the relay will reconstruct
	decoded, err := d.decoder.Decode(payload)
	if err != nil {
		return nil, err
	}
	if len(decoded) < n {
		return nil, fmt.Errorf("decoded %d samples, expected %d", len(decoded), n)
	}
	checksum := protocol.Checksum(decoded[:n])

	if d.config.Codec == audio.CodecADPCM {
		return protocol.EncodeADPCM(seq, n, checksum, payload)
	}
	return protocol.EncodePCM(seq, n, checksum, payload)
}

func (d *Device) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.write(conn, websocket.TextMessage, data)
}

func (d *Device) write(conn *websocket.Conn, messageType int, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}
