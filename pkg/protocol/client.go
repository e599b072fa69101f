// ABOUTME: WebSocket consumer client for the mic relay
// ABOUTME: Handles connection, hello handshake and message routing to channels
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultPath is the relay's WebSocket endpoint
	DefaultPath = "/ws"

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

var (
	// ErrNotConnected is returned when sending on a closed client
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownCommand is returned by SendCommand for tokens the relay rejects
	ErrUnknownCommand = errors.New("unknown command")
)

// ClientConfig holds client configuration
type ClientConfig struct {
	ServerAddr string // host:port
	Path       string // defaults to DefaultPath
	Name       string
	Codec      string // "pcm" (default) or "opus"
	Token      string
	Logger     *slog.Logger
}

// OpusFrame is one type 3 frame from the relay
type OpusFrame struct {
	Sequence    uint16
	SampleCount uint16
	Data        []byte
}

// Event is device information or telemetry relayed from a producer
type Event struct {
	Type       string
	DeviceInfo *DeviceInfo
	Info       *Info
	MicStatus  *MicStatus
	Raw        []byte
}

// Client is a consumer connection to a relay
type Client struct {
	config ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	// Message channels
	Packets chan *AudioPacket
	Opus    chan OpusFrame
	Status  chan Status
	Errors  chan Error
	Events  chan Event

	// State
	id        string
	role      string
	connected bool
	dropped   atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new consumer client
func NewClient(config ClientConfig) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Codec == "" {
		config.Codec = "pcm"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:  config,
		logger:  logger,
		Packets: make(chan *AudioPacket, 100),
		Opus:    make(chan OpusFrame, 100),
		Status:  make(chan Status, 10),
		Errors:  make(chan Error, 10),
		Events:  make(chan Event, 10),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// URL returns the WebSocket URL the client dials
func (c *Client) URL() string {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	if c.config.Token != "" {
		u.RawQuery = url.Values{"token": {c.config.Token}}.Encode()
	}
	return u.String()
}

// Connect dials the relay, sends hello and waits for the welcome
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to relay", "url", c.config.ServerAddr+c.config.Path)

	header := http.Header{}
	header.Set("User-Agent", "micrelay-listener")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.URL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

func (c *Client) handshake() error {
	hello := Hello{
		Type:   TypeHello,
		Client: ClientBrowser,
		Name:   c.config.Name,
		Codec:  c.config.Codec,
	}
	if err := c.sendJSON(hello); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	// The relay broadcasts status on connect, which may arrive first
	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read welcome: %w", err)
		}
		if messageType != websocket.TextMessage {
			c.handleBinaryMessage(data)
			continue
		}

		var welcome Welcome
		if err := json.Unmarshal(data, &welcome); err == nil && welcome.Type == TypeWelcome {
			c.mu.Lock()
			c.id = welcome.ID
			c.role = welcome.Role
			c.mu.Unlock()
			c.logger.Info("handshake complete", "id", welcome.ID, "role", welcome.Role)
			return nil
		}
		c.handleTextMessage(data)
	}
}

func (c *Client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.sendText(data)
}

func (c *Client) sendText(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendCommand forwards a control command to every producer
func (c *Client) SendCommand(action string) error {
	if !IsCommand(action) {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, action)
	}
	return c.sendText([]byte(action))
}

func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("read error", "err", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleTextMessage(data)
		}
	}
}

func (c *Client) handleBinaryMessage(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		c.logger.Debug("invalid binary frame", "err", err)
		return
	}

	switch frame.Type {
	case TypeAudio:
		pkt, err := Parse(data)
		if err != nil {
			c.logger.Debug("invalid audio frame", "err", err)
			return
		}
		select {
		case c.Packets <- pkt:
		default:
			c.dropped.Add(1)
		}
	case TypeOpus:
		select {
		case c.Opus <- OpusFrame{Sequence: frame.Sequence, SampleCount: frame.SampleCount, Data: frame.Payload}:
		default:
			c.dropped.Add(1)
		}
	default:
		c.logger.Debug("ignoring binary frame", "type", frame.Type)
	}
}

func (c *Client) handleTextMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("ignoring non-JSON text", "len", len(data))
		return
	}

	switch env.Type {
	case TypeStatus:
		var status Status
		if err := json.Unmarshal(data, &status); err != nil {
			c.logger.Warn("failed to parse status", "err", err)
			return
		}
		deliver(c, c.Status, status)

	case TypeError:
		var msg Error
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("failed to parse error", "err", err)
			return
		}
		c.logger.Warn("relay error", "message", msg.Message)
		deliver(c, c.Errors, msg)

	case TypeDeviceInfo, TypeInfo, TypeMicStatus:
		ev := Event{Type: env.Type, Raw: data}
		var err error
		switch env.Type {
		case TypeDeviceInfo:
			ev.DeviceInfo = &DeviceInfo{}
			err = json.Unmarshal(data, ev.DeviceInfo)
		case TypeInfo:
			ev.Info = &Info{}
			err = json.Unmarshal(data, ev.Info)
		case TypeMicStatus:
			ev.MicStatus = &MicStatus{}
			err = json.Unmarshal(data, ev.MicStatus)
		}
		if err != nil {
			c.logger.Warn("failed to parse event", "type", env.Type, "err", err)
			return
		}
		deliver(c, c.Events, ev)

	case TypeAudioJSON:
		var audio AudioJSON
		if err := json.Unmarshal(data, &audio); err != nil || len(audio.Data) == 0 {
			c.logger.Debug("invalid JSON audio", "err", err)
			return
		}
		pkt := &AudioPacket{
			Header: Header{
				Type:        TypeAudio,
				Sequence:    audio.Seq,
				SampleCount: uint16(len(audio.Data)),
				Checksum:    Checksum(audio.Data),
			},
			Samples:  audio.Data,
			Computed: Checksum(audio.Data),
		}
		select {
		case c.Packets <- pkt:
		default:
			c.dropped.Add(1)
		}

	default:
		c.logger.Debug("unknown message type", "type", env.Type)
	}
}

// deliver waits briefly for room on ch, then drops the message
func deliver[T any](c *Client, ch chan T, v T) {
	select {
	case ch <- v:
	case <-c.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		c.logger.Debug("channel full, dropping message")
	}
}

// ID returns the connection ID assigned in the welcome
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Role returns the role assigned in the welcome
func (c *Client) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Dropped returns the number of audio frames dropped on full channels
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()
	if c.connected {
		c.connected = false
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
		c.logger.Info("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
