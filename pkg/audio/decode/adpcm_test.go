// ABOUTME: Tests for IMA ADPCM decoder
// ABOUTME: Known vectors, clamping, determinism and reset policy
package decode

import (
	"math/rand"
	"testing"

	"github.com/Sendspin/micrelay/pkg/audio"
)

func TestADPCMDecodeZeroByte(t *testing.T) {
	d := NewADPCM(ADPCMConfig{})

	out, err := d.Decode([]byte{0x00})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// Code 0 adds step>>3 each time; step index stays clamped at 0
	first := audio.ADPCMStepTable[0] >> 3
	second := first + audio.ADPCMStepTable[0]>>3
	expected := []int16{int16(first), int16(second)}

	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestADPCMDecodeKnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []int16
	}{
		// code 7: diff = 0+7+3+1 = 11, index -> 8 (step 16)
		// code 7: diff = 2+16+8+4 = 30, index -> 16
		{"positive ramp", []byte{0x77}, []int16{11, 41}},
		// code 15 mirrors code 7 downward
		{"negative ramp", []byte{0xFF}, []int16{-11, -41}},
		// code 4: diff = 0+7 = 7, index -> 2 (step 9)
		// code 0: diff = 9>>3 = 1, index -> 1
		{"high nibble first", []byte{0x40}, []int16{7, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewADPCM(ADPCMConfig{}).Decode(tt.input)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			for i := range tt.expected {
				if out[i] != tt.expected[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.expected[i], out[i])
				}
			}
		})
	}
}

func TestADPCMOutputLength(t *testing.T) {
	d := NewADPCM(ADPCMConfig{})
	for _, n := range []int{0, 1, 7, 256, 4096} {
		out, err := d.Decode(make([]byte, n))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(out) != 2*n {
			t.Errorf("input %d bytes: expected %d samples, got %d", n, 2*n, len(out))
		}
	}
}

func TestADPCMClamping(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 4096)
	rng.Read(random)

	inputs := map[string][]byte{
		"all 0xFF": fill(0xFF, 4096),
		"all 0x77": fill(0x77, 4096),
		"all 0x00": fill(0x00, 4096),
		"random":   random,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			d := NewADPCM(ADPCMConfig{ContinuousMode: true})
			for i := 0; i < len(input); i += 64 {
				out, _ := d.Decode(input[i : i+64])
				for _, s := range out {
					if int32(s) < -32768 || int32(s) > 32767 {
						t.Fatalf("sample %d out of range", s)
					}
				}
				predicted, index := d.State()
				if index < 0 || index > audio.ADPCMMaxIndex {
					t.Fatalf("step index %d out of range", index)
				}
				if predicted < -32768 || predicted > 32767 {
					t.Fatalf("predicted value %d out of range", predicted)
				}
			}
		})
	}
}

func TestADPCMSaturates(t *testing.T) {
	d := NewADPCM(ADPCMConfig{})

	out, _ := d.Decode(fill(0x77, 64))
	if out[len(out)-1] != 32767 {
		t.Errorf("expected positive saturation, got %d", out[len(out)-1])
	}

	out, _ = d.Decode(fill(0xFF, 64))
	if out[len(out)-1] != -32768 {
		t.Errorf("expected negative saturation, got %d", out[len(out)-1])
	}
	if _, index := d.State(); index != audio.ADPCMMaxIndex {
		t.Errorf("expected index pinned at %d, got %d", audio.ADPCMMaxIndex, index)
	}
}

func TestADPCMDeterminism(t *testing.T) {
	input := []byte{0x12, 0x9A, 0x7F, 0x08, 0xC3, 0x55}

	a, _ := NewADPCM(ADPCMConfig{}).Decode(input)
	b, _ := NewADPCM(ADPCMConfig{}).Decode(input)

	d := NewADPCM(ADPCMConfig{})
	_, _ = d.Decode(fill(0x7F, 32))
	c, _ := d.Decode(input)

	for i := range a {
		if a[i] != b[i] || a[i] != c[i] {
			t.Fatalf("sample %d differs: %d %d %d", i, a[i], b[i], c[i])
		}
	}
}

func TestADPCMResetIdempotent(t *testing.T) {
	input := []byte{0x31, 0x4F, 0xE2}

	fresh, _ := NewADPCM(ADPCMConfig{ContinuousMode: true}).Decode(input)

	d := NewADPCM(ADPCMConfig{ContinuousMode: true})
	_, _ = d.Decode(fill(0x77, 16))
	d.Reset()
	d.Reset()
	afterReset, _ := d.Decode(input)

	for i := range fresh {
		if fresh[i] != afterReset[i] {
			t.Errorf("sample %d: expected %d, got %d", i, fresh[i], afterReset[i])
		}
	}
}

func TestADPCMContinuousMode(t *testing.T) {
	input := []byte{0x77, 0x77}

	whole, _ := NewADPCM(ADPCMConfig{ContinuousMode: true}).Decode(input)

	d := NewADPCM(ADPCMConfig{ContinuousMode: true})
	first, _ := d.Decode(input[:1])
	second, _ := d.Decode(input[1:])
	split := append(first, second...)

	for i := range whole {
		if whole[i] != split[i] {
			t.Errorf("continuous sample %d: expected %d, got %d", i, whole[i], split[i])
		}
	}

	// Per-buffer reset restarts the predictor
	r := NewADPCM(ADPCMConfig{})
	_, _ = r.Decode(input[:1])
	again, _ := r.Decode(input[1:])
	if again[0] != 11 || again[1] != 41 {
		t.Errorf("expected reset decode [11 41], got %v", again)
	}
}

func TestADPCMImplementsDecoder(t *testing.T) {
	var d Decoder = NewADPCM(ADPCMConfig{})
	if err := d.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func fill(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
