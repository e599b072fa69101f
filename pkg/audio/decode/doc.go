// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides Decoder interface and implementations for PCM, ADPCM, Opus, MP3
// Package decode provides audio decoders for the codecs seen on the relay.
//
// Supports: 16-bit big-endian PCM packet payloads, IMA ADPCM from
// microphone devices, Opus frames for listeners, and MP3 files as a
// capture source for the device simulator.
//
// All decoders implement the Decoder interface and output int16 samples.
//
// Example:
//
//	decoder := decode.NewADPCM(decode.ADPCMConfig{ContinuousMode: false})
//	samples, err := decoder.Decode(payload)
package decode
