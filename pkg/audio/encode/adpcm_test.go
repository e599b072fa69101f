// ABOUTME: Tests for IMA ADPCM encoder
// ABOUTME: Verifies encoder and decoder track the same predictor
package encode

import (
	"math"
	"testing"

	"github.com/Sendspin/micrelay/pkg/audio"
	"github.com/Sendspin/micrelay/pkg/audio/decode"
)

func sine(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestADPCMEncodeLength(t *testing.T) {
	tests := []struct {
		samples int
		bytes   int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 2},
		{320, 160},
	}

	for _, tt := range tests {
		out, err := NewADPCM(ADPCMConfig{}).Encode(make([]int16, tt.samples))
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if len(out) != tt.bytes {
			t.Errorf("%d samples: expected %d bytes, got %d", tt.samples, tt.bytes, len(out))
		}
	}
}

func TestADPCMEncoderMatchesDecoder(t *testing.T) {
	input := sine(320, 12000)

	enc := NewADPCM(ADPCMConfig{})
	payload, err := enc.Encode(input)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	dec := decode.NewADPCM(decode.ADPCMConfig{})
	out, err := dec.Decode(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(out) != len(input) {
		t.Fatalf("expected %d samples, got %d", len(input), len(out))
	}

	encPred, encIdx := enc.State()
	decPred, decIdx := dec.State()
	if encPred != decPred || encIdx != decIdx {
		t.Errorf("predictor diverged: encoder (%d,%d) decoder (%d,%d)", encPred, encIdx, decPred, decIdx)
	}
}

func TestADPCMEncoderTracksSignal(t *testing.T) {
	input := sine(1600, 8000)

	payload, _ := NewADPCM(ADPCMConfig{}).Encode(input)
	out, _ := decode.NewADPCM(decode.ADPCMConfig{}).Decode(payload)

	// Skip the attack while the step size adapts
	var errSum float64
	for i := 200; i < len(input); i++ {
		errSum += math.Abs(float64(out[i]) - float64(input[i]))
	}
	meanErr := errSum / float64(len(input)-200)
	if meanErr > 1500 {
		t.Errorf("mean reconstruction error too large: %.1f", meanErr)
	}
}

func TestADPCMEncoderContinuous(t *testing.T) {
	input := sine(640, 10000)

	enc := NewADPCM(ADPCMConfig{ContinuousMode: true})
	dec := decode.NewADPCM(decode.ADPCMConfig{ContinuousMode: true})

	for i := 0; i < len(input); i += 160 {
		payload, _ := enc.Encode(input[i : i+160])
		_, _ = dec.Decode(payload)
	}

	encPred, encIdx := enc.State()
	decPred, decIdx := dec.State()
	if encPred != decPred || encIdx != decIdx {
		t.Errorf("continuous predictor diverged: encoder (%d,%d) decoder (%d,%d)", encPred, encIdx, decPred, decIdx)
	}
	if encIdx < 0 || encIdx > audio.ADPCMMaxIndex {
		t.Errorf("index out of range: %d", encIdx)
	}
}
