// ABOUTME: IMA ADPCM encoder
// ABOUTME: Compresses 16-bit PCM to 4-bit codes, two samples per output byte
package encode

import (
	"github.com/Sendspin/micrelay/pkg/audio"
)

// ADPCMConfig controls predictor continuity between buffers
type ADPCMConfig struct {
	// ContinuousMode keeps predictor state across Encode calls. It must
	// match the decoder on the other end.
	ContinuousMode bool
}

// ADPCMEncoder encodes IMA ADPCM. Not safe for concurrent use.
type ADPCMEncoder struct {
	config ADPCMConfig
	state  audio.ADPCMState
}

// NewADPCM creates an encoder in the reset state
func NewADPCM(config ADPCMConfig) *ADPCMEncoder {
	return &ADPCMEncoder{config: config}
}

// Reset zeroes the predictor
func (e *ADPCMEncoder) Reset() {
	e.state = audio.ADPCMState{}
}

// State returns the predictor as the decoder will see it
func (e *ADPCMEncoder) State() (predicted, index int32) {
	return e.state.Predicted, e.state.Index
}

// Encode packs samples into ceil(len/2) bytes, high nibble first. An odd
// final sample is followed by a zero pad nibble.
func (e *ADPCMEncoder) Encode(samples []int16) ([]byte, error) {
	if !e.config.ContinuousMode {
		e.Reset()
	}

	out := make([]byte, (len(samples)+1)/2)
	for i, s := range samples {
		code := e.quantize(s)
		e.state.Apply(code)
		if i%2 == 0 {
			out[i/2] = code << 4
		} else {
			out[i/2] |= code
		}
	}
	return out, nil
}

// quantize picks the 4-bit code whose reconstruction is closest to sample
func (e *ADPCMEncoder) quantize(sample int16) byte {
	step := audio.ADPCMStepTable[e.state.Index]
	diff := int32(sample) - e.state.Predicted

	var code byte
	if diff < 0 {
		code = 8
		diff = -diff
	}
	if diff >= step {
		code |= 4
		diff -= step
	}
	step >>= 1
	if diff >= step {
		code |= 2
		diff -= step
	}
	step >>= 1
	if diff >= step {
		code |= 1
	}
	return code
}

// Close releases resources
func (e *ADPCMEncoder) Close() error {
	return nil
}
