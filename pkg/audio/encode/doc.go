// ABOUTME: Audio encoder package for encoding PCM to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM, ADPCM, Opus
// Package encode provides audio encoders for the relay wire formats.
//
// Supports: big-endian 16-bit PCM, IMA ADPCM (as produced by microphone
// devices) and Opus (for listeners that ask for it).
//
// Example:
//
//	encoder := encode.NewADPCM(encode.ADPCMConfig{})
//	payload, err := encoder.Encode(samples)
package encode
