// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends
package output

// Output represents an audio output device
type Output interface {
	// Open initializes the output device
	Open(sampleRate, channels int) error

	// Write outputs audio samples (blocks until written)
	Write(samples []int16) error

	// SetVolume sets software volume in percent (0-100)
	SetVolume(volume int)

	// SetMuted mutes or unmutes playback
	SetMuted(muted bool)

	// Close releases output resources
	Close() error
}
