// ABOUTME: High-level listener that plays relayed microphone audio
// ABOUTME: Connects as a consumer, orders packets through a jitter buffer and plays them
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sendspin/micrelay/pkg/audio"
	"github.com/Sendspin/micrelay/pkg/audio/decode"
	"github.com/Sendspin/micrelay/pkg/audio/output"
	"github.com/Sendspin/micrelay/pkg/protocol"
)

// ErrNotConnected is returned by commands sent before Connect
var ErrNotConnected = errors.New("listener not connected")

// Config holds listener configuration
type Config struct {
	// ServerAddr is the relay address (host:port)
	ServerAddr string

	// Path is the WebSocket path (default: /ws)
	Path string

	// Name is sent in the hello
	Name string

	// Codec is "pcm" (default) or "opus"
	Codec string

	// Token is the relay's shared token, if any
	Token string

	// SampleRate of the producers (default: 16000)
	SampleRate int

	// BufferDepth is the number of packets held for reordering (default: 4)
	BufferDepth int

	// Volume is the initial volume (0-100, default: 100)
	Volume int

	// Output plays audio; nil uses oto
	Output output.Output

	Logger *slog.Logger

	// OnStatus is called for every relay status broadcast
	OnStatus func(protocol.Status)

	// OnEvent is called for device info and telemetry
	OnEvent func(protocol.Event)

	// OnError is called for relay errors and local failures
	OnError func(error)

	// OnStateChange is called when the listener state changes
	OnStateChange func(State)
}

// State describes the current listener state
type State struct {
	Connected  bool
	Volume     int
	Muted      bool
	Codec      string
	SampleRate int
	Producers  int
	Consumers  int
	Device     string
	MicKnown   bool
	MicEnabled bool
}

// Stats contains playback statistics
type Stats struct {
	Received       int64
	Played         int64
	Late           int64
	Lost           int64
	Resyncs        int64 // sequence restarts, such as a device reboot
	Dropped        uint64 // dropped by the client on full channels
	ChecksumErrors int64
	BufferDepth    int // packets
}

// Listener plays audio from a relay
type Listener struct {
	config Config
	logger *slog.Logger

	client  *protocol.Client
	output  output.Output
	decoder decode.Decoder

	mu             sync.RWMutex
	jitter         *JitterBuffer
	state          State
	checksumErrors int64

	playback chan audio.Buffer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a listener with the given configuration
func New(config Config) (*Listener, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.Codec == "" {
		config.Codec = audio.CodecPCM
	}
	if config.Codec != audio.CodecPCM && config.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("unsupported codec: %s", config.Codec)
	}
	if config.SampleRate == 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.BufferDepth <= 0 {
		config.BufferDepth = 4
	}
	if config.Volume == 0 {
		config.Volume = 100
	}
	config.Volume = output.ClampVolume(config.Volume)
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Output == nil {
		config.Output = output.NewOto(config.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &Listener{
		config:   config,
		logger:   config.Logger,
		output:   config.Output,
		jitter:   NewJitterBuffer(config.BufferDepth),
		playback: make(chan audio.Buffer, 32),
		ctx:      ctx,
		cancel:   cancel,
		state: State{
			Volume:     config.Volume,
			Codec:      config.Codec,
			SampleRate: config.SampleRate,
		},
	}
	l.output.SetVolume(config.Volume)

	return l, nil
}

// Connect opens the output, connects to the relay and starts playback
func (l *Listener) Connect(ctx context.Context) error {
	format := audio.Mono16(l.config.Codec, l.config.SampleRate)
	if l.config.Codec == audio.CodecOpus {
		dec, err := decode.New(format)
		if err != nil {
			return fmt.Errorf("failed to create decoder: %w", err)
		}
		l.decoder = dec
	}

	if err := l.output.Open(format.SampleRate, format.Channels); err != nil {
		return fmt.Errorf("failed to initialize output: %w", err)
	}

	l.client = protocol.NewClient(protocol.ClientConfig{
		ServerAddr: l.config.ServerAddr,
		Path:       l.config.Path,
		Name:       l.config.Name,
		Codec:      l.config.Codec,
		Token:      l.config.Token,
		Logger:     l.logger,
	})

	if err := l.client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	l.logger.Info("connected to relay", "addr", l.config.ServerAddr, "codec", l.config.Codec)
	l.updateState(func(s *State) { s.Connected = true })

	l.wg.Add(3)
	go l.handleAudio()
	go l.handleMessages()
	go l.handlePlayback()

	return nil
}

// handleAudio decodes incoming frames into the jitter buffer
func (l *Listener) handleAudio() {
	defer l.wg.Done()

	for {
		select {
		case pkt := <-l.client.Packets:
			if pkt.ChecksumMismatch() {
				l.mu.Lock()
				l.checksumErrors++
				l.mu.Unlock()
			}
			l.enqueue(audio.Buffer{
				Sequence:   pkt.Sequence,
				ReceivedAt: time.Now(),
				Samples:    pkt.Samples,
				Format:     audio.Mono16(audio.CodecPCM, l.config.SampleRate),
			})

		case frame := <-l.client.Opus:
			if l.decoder == nil {
				continue
			}
			samples, err := l.decoder.Decode(frame.Data)
			if err != nil {
				l.notifyError(fmt.Errorf("decode error: %w", err))
				continue
			}
			l.enqueue(audio.Buffer{
				Sequence:   frame.Sequence,
				ReceivedAt: time.Now(),
				Samples:    samples,
				Format:     audio.Mono16(audio.CodecPCM, l.config.SampleRate),
			})

		case <-l.client.Done():
			l.flush()
			l.updateState(func(s *State) { s.Connected = false })
			return

		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Listener) enqueue(buf audio.Buffer) {
	l.mu.Lock()
	l.jitter.Push(buf)
	var ready []audio.Buffer
	for {
		b, ok := l.jitter.Pop()
		if !ok {
			break
		}
		ready = append(ready, b)
	}
	l.mu.Unlock()

	l.play(ready)
}

// flush plays whatever is left in the jitter buffer
func (l *Listener) flush() {
	l.mu.Lock()
	ready := l.jitter.Drain()
	l.jitter.Reset()
	l.mu.Unlock()

	l.play(ready)
}

func (l *Listener) play(bufs []audio.Buffer) {
	for _, b := range bufs {
		select {
		case l.playback <- b:
		case <-l.ctx.Done():
			return
		}
	}
}

// handlePlayback writes ordered buffers to the output
func (l *Listener) handlePlayback() {
	defer l.wg.Done()

	for {
		select {
		case buf := <-l.playback:
			if err := l.output.Write(buf.Samples); err != nil {
				l.notifyError(fmt.Errorf("playback error: %w", err))
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// handleMessages processes status, errors and device events
func (l *Listener) handleMessages() {
	defer l.wg.Done()

	for {
		select {
		case status := <-l.client.Status:
			l.updateState(func(s *State) {
				s.Producers = status.Producers
				s.Consumers = status.Consumers
			})
			if l.config.OnStatus != nil {
				l.config.OnStatus(status)
			}

		case msg := <-l.client.Errors:
			l.notifyError(fmt.Errorf("relay: %s", msg.Message))

		case ev := <-l.client.Events:
			switch {
			case ev.MicStatus != nil:
				l.updateState(func(s *State) {
					s.MicKnown = true
					s.MicEnabled = ev.MicStatus.Enabled
				})
			case ev.DeviceInfo != nil:
				l.updateState(func(s *State) { s.Device = ev.DeviceInfo.Device })
			}
			if l.config.OnEvent != nil {
				l.config.OnEvent(ev)
			}

		case <-l.client.Done():
			return

		case <-l.ctx.Done():
			return
		}
	}
}

// MicOn asks every producer to start streaming
func (l *Listener) MicOn() error {
	return l.command(protocol.CmdMicOn)
}

// MicOff asks every producer to stop streaming
func (l *Listener) MicOff() error {
	return l.command(protocol.CmdMicOff)
}

// MicCheck asks every producer to report its microphone state
func (l *Listener) MicCheck() error {
	return l.command(protocol.CmdMicCheck)
}

// Flash sends one of the flash commands to every producer
func (l *Listener) Flash(action string) error {
	switch action {
	case protocol.CmdFlash, protocol.CmdFlashOn, protocol.CmdFlashOff:
		return l.command(action)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownCommand, action)
	}
}

func (l *Listener) command(action string) error {
	if l.client == nil {
		return ErrNotConnected
	}
	return l.client.SendCommand(action)
}

// SetVolume sets the playback volume (0-100)
func (l *Listener) SetVolume(volume int) {
	volume = output.ClampVolume(volume)
	l.output.SetVolume(volume)
	l.updateState(func(s *State) { s.Volume = volume })
}

// Mute mutes or unmutes playback
func (l *Listener) Mute(muted bool) {
	l.output.SetMuted(muted)
	l.updateState(func(s *State) { s.Muted = muted })
}

// Status returns the current state
func (l *Listener) Status() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Stats returns playback statistics
func (l *Listener) Stats() Stats {
	l.mu.RLock()
	js := l.jitter.Stats()
	stats := Stats{
		Received:       js.Received,
		Played:         js.Played,
		Late:           js.Late,
		Lost:           js.Lost,
		Resyncs:        js.Resyncs,
		ChecksumErrors: l.checksumErrors,
		BufferDepth:    l.jitter.Len(),
	}
	l.mu.RUnlock()

	if l.client != nil {
		stats.Dropped = l.client.Dropped()
	}
	return stats
}

// Done is closed when the relay connection ends
func (l *Listener) Done() <-chan struct{} {
	if l.client == nil {
		return l.ctx.Done()
	}
	return l.client.Done()
}

// Close disconnects and releases the output
func (l *Listener) Close() error {
	l.cancel()
	if l.client != nil {
		l.client.Close()
	}
	l.wg.Wait()

	if l.decoder != nil {
		l.decoder.Close()
	}
	return l.output.Close()
}

func (l *Listener) updateState(update func(*State)) {
	l.mu.Lock()
	update(&l.state)
	state := l.state
	l.mu.Unlock()

	if l.config.OnStateChange != nil {
		l.config.OnStateChange(state)
	}
}

func (l *Listener) notifyError(err error) {
	l.logger.Warn("listener error", "err", err)
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}
