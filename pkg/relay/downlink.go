// ABOUTME: Per-consumer Opus downlink state
// ABOUTME: Buffers decoded PCM into 20ms Opus frames framed as type 3 packets
package relay

import (
	"errors"
	"fmt"

	"github.com/Sendspin/micrelay/pkg/audio"
	"github.com/Sendspin/micrelay/pkg/audio/encode"
	"github.com/Sendspin/micrelay/pkg/protocol"
)

var errOpusUnavailable = errors.New("opus encoder unavailable")

// opusFrames feeds samples into this consumer's encoder and returns the
// complete frames, ready to send
func (c *Conn) opusFrames(samples []int16, sampleRate, bitrate int) ([][]byte, error) {
	c.opusMu.Lock()
	defer c.opusMu.Unlock()

	if c.opus == nil || c.opusRate != sampleRate {
		if c.opus != nil {
			c.opus.Close()
		}
		enc, err := encode.NewOpus(audio.Mono16(audio.CodecOpus, sampleRate), bitrate)
		if err != nil {
			c.opus = nil
			return nil, fmt.Errorf("%w: %v", errOpusUnavailable, err)
		}
		c.opus = enc
		c.opusRate = sampleRate
	}

	packets, err := c.opus.Push(samples)
	frames := make([][]byte, 0, len(packets))
	for _, p := range packets {
		frame, ferr := protocol.EncodeOpus(c.opusSeq, c.opus.FrameSamples(), p)
		if ferr != nil {
			return frames, ferr
		}
		c.opusSeq++
		frames = append(frames, frame)
	}
	return frames, err
}

func (c *Conn) closeOpus() {
	c.opusMu.Lock()
	defer c.opusMu.Unlock()
	if c.opus != nil {
		c.opus.Close()
		c.opus = nil
	}
}
