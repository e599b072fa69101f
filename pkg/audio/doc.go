// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types and int16 sample helpers
// Package audio provides the audio types shared by the relay, the device
// simulator and the listener.
//
// Microphone devices capture 16-bit mono audio, so samples are int16
// throughout:
//   - Format: codec, sample rate, channels, bit depth
//   - Buffer: decoded PCM with the packet sequence number it came from
//
// Example:
//
//	format := audio.Mono16(audio.CodecPCM, audio.DefaultSampleRate)
//	quiet := audio.ScaleVolume(sample, 50)
package audio
