// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface and oto implementation
// Package output provides audio playback for listeners.
//
// The oto backend plays 16-bit PCM with software volume and mute.
//
// Example:
//
//	out := output.NewOto(logger)
//	err := out.Open(16000, 1)
//	err = out.Write(samples)
package output
