// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, decoded buffers and sample helpers
package audio

import "time"

// Codec names used across the relay
const (
	CodecPCM   = "pcm"
	CodecADPCM = "adpcm"
	CodecOpus  = "opus"
)

// DefaultSampleRate is the capture rate of the ESP32 microphone firmware
const DefaultSampleRate = 16000

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Mono16 returns the 16-bit mono format used by microphone devices
func Mono16(codec string, sampleRate int) Format {
	return Format{
		Codec:      codec,
		SampleRate: sampleRate,
		Channels:   1,
		BitDepth:   16,
	}
}

// Buffer represents decoded PCM audio
type Buffer struct {
	Sequence   uint16
	ReceivedAt time.Time
	Samples    []int16
	Format     Format
}

// Duration returns the playback length of the buffer
func (b Buffer) Duration() time.Duration {
	if b.Format.SampleRate == 0 || b.Format.Channels == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.Format.SampleRate)
}

// ClampInt16 saturates v to the int16 range
func ClampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ScaleVolume applies a 0-100 volume to a sample
func ScaleVolume(sample int16, volume int) int16 {
	return ClampInt16(int32(sample) * int32(volume) / 100)
}

// Downmix averages interleaved channels into mono
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
