// ABOUTME: MP3 stream reader
// ABOUTME: Decodes an MP3 byte stream to interleaved int16 samples
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Channels is the channel count go-mp3 always produces
const MP3Channels = 2

// MP3Reader pulls decoded samples from an MP3 stream
type MP3Reader struct {
	decoder *mp3.Decoder
	buf     []byte
}

// NewMP3Reader creates a reader over an MP3 stream
func NewMP3Reader(r io.Reader) (*MP3Reader, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	return &MP3Reader{decoder: decoder}, nil
}

// SampleRate returns the stream sample rate
func (m *MP3Reader) SampleRate() int {
	return m.decoder.SampleRate()
}

// Read fills samples with interleaved stereo data. It returns io.EOF once
// the stream is exhausted and no samples were read.
func (m *MP3Reader) Read(samples []int16) (int, error) {
	need := len(samples) * 2
	if cap(m.buf) < need {
		m.buf = make([]byte, need)
	}
	buf := m.buf[:need]

	n, err := io.ReadFull(m.decoder, buf)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if n == 0 && err == nil {
		err = io.EOF
	}

	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return count, err
}

// Rewind seeks back to the start of the stream
func (m *MP3Reader) Rewind() error {
	if _, err := m.decoder.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("mp3 seek failed: %w", err)
	}
	return nil
}
