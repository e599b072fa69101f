// ABOUTME: IMA ADPCM decoder
// ABOUTME: Expands 4-bit codes to 16-bit PCM, two samples per input byte
package decode

import (
	"github.com/Sendspin/micrelay/pkg/audio"
)

// ADPCMConfig controls predictor continuity between buffers
type ADPCMConfig struct {
	// ContinuousMode keeps predictor state across Decode calls. When false
	// the decoder is reset before every buffer, matching devices that
	// restart their encoder per packet.
	ContinuousMode bool
}

// ADPCMDecoder decodes IMA ADPCM. It is not safe for concurrent use; each
// stream owns its own decoder.
type ADPCMDecoder struct {
	config ADPCMConfig
	state  audio.ADPCMState
}

// NewADPCM creates a decoder in the reset state
func NewADPCM(config ADPCMConfig) *ADPCMDecoder {
	return &ADPCMDecoder{config: config}
}

// Reset zeroes the predicted value and step index
func (d *ADPCMDecoder) Reset() {
	d.state = audio.ADPCMState{}
}

// State returns the current predicted value and step index
func (d *ADPCMDecoder) State() (predicted, index int32) {
	return d.state.Predicted, d.state.Index
}

// Decode expands data into len(data)*2 samples, high nibble first
func (d *ADPCMDecoder) Decode(data []byte) ([]int16, error) {
	if !d.config.ContinuousMode {
		d.Reset()
	}

	out := make([]int16, len(data)*2)
	for i, b := range data {
		out[i*2] = d.state.Apply(b >> 4)
		out[i*2+1] = d.state.Apply(b & 0x0F)
	}
	return out, nil
}

// Close releases resources
func (d *ADPCMDecoder) Close() error {
	return nil
}
