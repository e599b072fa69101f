// ABOUTME: Opus audio encoder
// ABOUTME: Encodes int16 samples to Opus packets in fixed 20ms frames
package encode

import (
	"fmt"

	"github.com/Sendspin/micrelay/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

const (
	// maxOpusPacket is the largest packet libopus will write
	maxOpusPacket = 4000

	// FrameDurationMs is the Opus frame length used on the relay
	FrameDurationMs = 20
)

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per frame

	pending []int16
}

// NewOpus creates a new Opus encoder. bitrate is in bits per second;
// 0 keeps the libopus default.
func NewOpus(format audio.Format, bitrate int) (*OpusEncoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if bitrate > 0 {
		if err := encoder.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("failed to set opus bitrate %d: %w", bitrate, err)
		}
	}

	return &OpusEncoder{
		encoder:    encoder,
		sampleRate: format.SampleRate,
		channels:   format.Channels,
		frameSize:  format.SampleRate * FrameDurationMs / 1000,
	}, nil
}

// FrameSamples returns the number of interleaved samples in one frame
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSize * e.channels
}

// Encode converts exactly one frame of samples to an Opus packet
func (e *OpusEncoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != e.FrameSamples() {
		return nil, fmt.Errorf("opus frame must be %d samples, got %d", e.FrameSamples(), len(samples))
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.Encode(samples, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return data[:n], nil
}

// Push buffers samples of any length and returns one packet per complete
// frame. Leftover samples wait for the next call.
func (e *OpusEncoder) Push(samples []int16) ([][]byte, error) {
	e.pending = append(e.pending, samples...)

	frame := e.FrameSamples()
	var packets [][]byte
	for len(e.pending) >= frame {
		pkt, err := e.Encode(e.pending[:frame])
		if err != nil {
			e.pending = append([]int16(nil), e.pending[frame:]...)
			return packets, err
		}
		packets = append(packets, pkt)
		e.pending = e.pending[frame:]
	}

	// Compact so the backing array does not grow without bound
	if len(e.pending) > 0 {
		e.pending = append([]int16(nil), e.pending...)
	} else {
		e.pending = e.pending[:0]
	}

	return packets, nil
}

// Pending returns the number of buffered samples not yet encoded
func (e *OpusEncoder) Pending() int {
	return len(e.pending)
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	e.pending = nil
	return nil
}
