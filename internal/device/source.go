// ABOUTME: Capture sources for the simulated microphone
// ABOUTME: Sine tone generator and looping MP3 file, both mono at the device rate
package device

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sendspin/micrelay/pkg/audio"
	"github.com/Sendspin/micrelay/pkg/audio/decode"
	"github.com/Sendspin/micrelay/pkg/audio/resample"
)

// Source provides mono 16-bit samples
type Source interface {
	// Read fills samples and returns how many were written
	Read(samples []int16) (int, error)

	// SampleRate returns the rate Read produces
	SampleRate() int

	// Name describes the source for logs
	Name() string

	Close() error
}

// NewSource opens an MP3 file, or a 440Hz tone when path is empty
func NewSource(path string, sampleRate int) (Source, error) {
	if path == "" {
		return NewToneSource(440, sampleRate), nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".mp3" {
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3)", ext)
	}
	return NewMP3Source(path, sampleRate)
}

// ToneSource generates a sine wave at half scale
type ToneSource struct {
	frequency  float64
	sampleRate int
	index      uint64
}

// NewToneSource creates a tone generator
func NewToneSource(frequency float64, sampleRate int) *ToneSource {
	return &ToneSource{frequency: frequency, sampleRate: sampleRate}
}

func (s *ToneSource) Read(samples []int16) (int, error) {
	for i := range samples {
		t := float64(s.index+uint64(i)) / float64(s.sampleRate)
		samples[i] = int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5)
	}
	s.index += uint64(len(samples))
	return len(samples), nil
}

func (s *ToneSource) SampleRate() int { return s.sampleRate }
func (s *ToneSource) Name() string    { return fmt.Sprintf("tone %.0fHz", s.frequency) }
func (s *ToneSource) Close() error    { return nil }

// MP3Source loops an MP3 file, downmixed to mono and resampled
type MP3Source struct {
	file       *os.File
	reader     *decode.MP3Reader
	resampler  *resample.Resampler
	sampleRate int
	name       string

	stereo  []int16
	pending []int16
	decoded bool // samples read since the last rewind
}

// NewMP3Source opens path for looping playback at sampleRate
func NewMP3Source(path string, sampleRate int) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	reader, err := decode.NewMP3Reader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	filename := filepath.Base(path)
	return &MP3Source{
		file:       f,
		reader:     reader,
		resampler:  resample.New(reader.SampleRate(), sampleRate, 1),
		sampleRate: sampleRate,
		name:       strings.TrimSuffix(filename, filepath.Ext(filename)),
	}, nil
}

func (s *MP3Source) Read(samples []int16) (int, error) {
	for len(s.pending) < len(samples) {
		if err := s.fill(len(samples)); err != nil {
			return 0, err
		}
	}

	n := copy(samples, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// fill decodes one chunk and appends it to pending
func (s *MP3Source) fill(want int) error {
	// Enough source frames for want output samples, plus slack for the resampler
	frames := want*s.reader.SampleRate()/s.sampleRate + 2
	if cap(s.stereo) < frames*decode.MP3Channels {
		s.stereo = make([]int16, frames*decode.MP3Channels)
	}
	stereo := s.stereo[:frames*decode.MP3Channels]

	n, err := s.reader.Read(stereo)
	if err == io.EOF {
		if !s.decoded {
			return fmt.Errorf("mp3 stream %s has no audio", s.name)
		}
		s.decoded = false
		if err := s.reader.Rewind(); err != nil {
			return err
		}
		s.resampler.Reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("mp3 read failed: %w", err)
	}
	s.decoded = true

	mono := audio.Downmix(stereo[:n], decode.MP3Channels)

	out := make([]int16, len(mono)*s.sampleRate/s.reader.SampleRate()+2)
	written := s.resampler.Resample(mono, out)
	s.pending = append(s.pending, out[:written]...)
	return nil
}

func (s *MP3Source) SampleRate() int { return s.sampleRate }
func (s *MP3Source) Name() string    { return s.name }
func (s *MP3Source) Close() error    { return s.file.Close() }
