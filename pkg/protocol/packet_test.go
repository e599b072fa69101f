// ABOUTME: Tests for AudioPacket framing
// ABOUTME: Covers header validation, truncation, checksums and encoding
package protocol

import (
	"errors"
	"testing"
)

func TestParseKnownPacket(t *testing.T) {
	buf := []byte{
		0xA5, 0x01, // magic, type
		0x00, 0x05, // seq 5
		0x00, 0x03, // 3 samples
		0x02, 0x58, // checksum 600
		0x00, 0x64, // 100
		0xFF, 0x38, // -200
		0x01, 0x2C, // 300
	}

	pkt, err := Parse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if pkt.Sequence != 5 {
		t.Errorf("expected seq 5, got %d", pkt.Sequence)
	}
	if pkt.SampleCount != 3 {
		t.Errorf("expected 3 samples, got %d", pkt.SampleCount)
	}
	if pkt.Checksum != 600 || pkt.Computed != 600 {
		t.Errorf("expected checksum 600/600, got %d/%d", pkt.Checksum, pkt.Computed)
	}

	want := []int16{100, -200, 300}
	if len(pkt.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(pkt.Samples))
	}
	for i := range want {
		if pkt.Samples[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], pkt.Samples[i])
		}
	}
	if pkt.Truncated {
		t.Error("packet should not be marked truncated")
	}
	if pkt.ChecksumMismatch() {
		t.Error("checksum should match")
	}
}

func TestParseTooSmall(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		buf := make([]byte, n)
		if n > 0 {
			buf[0] = Magic
		}
		if _, err := Parse(buf); !errors.Is(err, ErrTooSmall) {
			t.Errorf("len %d: expected ErrTooSmall, got %v", n, err)
		}
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{
			name:    "bad magic",
			buf:     []byte{0x5A, 0x01, 0, 1, 0, 1, 0, 0, 0, 0},
			wantErr: ErrBadMagicOrType,
		},
		{
			name:    "bad type",
			buf:     []byte{0xA5, 0x07, 0, 1, 0, 1, 0, 0, 0, 0},
			wantErr: ErrBadMagicOrType,
		},
		{
			name:    "adpcm is not pcm",
			buf:     []byte{0xA5, 0x02, 0, 1, 0, 2, 0, 0, 0x11},
			wantErr: ErrBadMagicOrType,
		},
		{
			name:    "bad type checked before sample count",
			buf:     []byte{0xA5, 0x07, 0, 1, 0, 0, 0, 0},
			wantErr: ErrBadMagicOrType,
		},
		{
			name:    "adpcm with zero samples is still the wrong type",
			buf:     []byte{0xA5, 0x02, 0, 1, 0, 0, 0, 0},
			wantErr: ErrBadMagicOrType,
		},
		{
			name:    "zero samples",
			buf:     []byte{0xA5, 0x01, 0, 1, 0, 0, 0, 0},
			wantErr: ErrInvalidSampleCount,
		},
		{
			name:    "too many samples",
			buf:     []byte{0xA5, 0x01, 0, 1, 0x20, 0x01, 0, 0},
			wantErr: ErrInvalidSampleCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseMaxSampleCountAccepted(t *testing.T) {
	samples := make([]int16, MaxSampleCount)
	buf, err := Encode(1, samples)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	pkt, err := Parse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(pkt.Samples) != MaxSampleCount {
		t.Errorf("expected %d samples, got %d", MaxSampleCount, len(pkt.Samples))
	}
}

func TestParseTruncated(t *testing.T) {
	buf, err := Encode(9, []int16{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Drop one and a half samples
	pkt, err := Parse(buf[:len(buf)-3])
	if err != nil {
		t.Fatalf("truncated packet should parse, got %v", err)
	}
	if !pkt.Truncated {
		t.Error("expected truncated flag")
	}
	if pkt.SampleCount != 4 {
		t.Errorf("header sample count should be kept, got %d", pkt.SampleCount)
	}
	if len(pkt.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(pkt.Samples))
	}
	if pkt.Samples[0] != 1 || pkt.Samples[1] != 2 {
		t.Errorf("unexpected samples %v", pkt.Samples)
	}

	// Header only
	pkt, err = Parse(buf[:HeaderSize])
	if err != nil {
		t.Fatalf("header-only packet should parse, got %v", err)
	}
	if len(pkt.Samples) != 0 {
		t.Errorf("expected no samples, got %d", len(pkt.Samples))
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		seq     uint16
		samples []int16
	}{
		{"single", 0, []int16{0}},
		{"extremes", 65535, []int16{32767, -32768, -1, 1}},
		{"ramp", 1234, []int16{-300, -200, -100, 0, 100, 200, 300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.seq, tt.samples)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if len(buf) != HeaderSize+2*len(tt.samples) {
				t.Errorf("unexpected frame length %d", len(buf))
			}

			pkt, err := Parse(buf)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if pkt.Sequence != tt.seq {
				t.Errorf("expected seq %d, got %d", tt.seq, pkt.Sequence)
			}
			for i := range tt.samples {
				if pkt.Samples[i] != tt.samples[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.samples[i], pkt.Samples[i])
				}
			}
			if pkt.Checksum != pkt.Computed {
				t.Errorf("checksum mismatch %d != %d", pkt.Checksum, pkt.Computed)
			}
		})
	}
}

func TestEncodeRejectsBadCounts(t *testing.T) {
	if _, err := Encode(1, nil); !errors.Is(err, ErrInvalidSampleCount) {
		t.Errorf("expected ErrInvalidSampleCount for empty, got %v", err)
	}
	if _, err := Encode(1, make([]int16, MaxSampleCount+1)); !errors.Is(err, ErrInvalidSampleCount) {
		t.Errorf("expected ErrInvalidSampleCount for oversize, got %v", err)
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected uint16
	}{
		{"empty", nil, 0},
		{"mixed signs", []int16{100, -200, 300}, 600},
		{"min value", []int16{-32768}, 32768},
		{"wraps", []int16{32767, 32767, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.samples); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestChecksumMismatchIsAdvisory(t *testing.T) {
	buf, err := Encode(3, []int16{1000, 2000})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// Corrupt the header checksum well beyond tolerance
	buf[6], buf[7] = 0x7F, 0xFF

	pkt, err := Parse(buf)
	if err != nil {
		t.Fatalf("checksum mismatch must not reject the packet: %v", err)
	}
	if !pkt.ChecksumMismatch() {
		t.Error("expected mismatch to be reported")
	}

	// Within tolerance
	buf[6], buf[7] = 0x0B, 0xE0 // 3040, computed 3000
	pkt, err = Parse(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pkt.ChecksumMismatch() {
		t.Error("drift of 40 should be tolerated")
	}
}

func TestParseFrame(t *testing.T) {
	adpcm, err := EncodeADPCM(7, 4, 99, []byte{0x12, 0x34})
	if err != nil {
		t.Fatalf("encode adpcm failed: %v", err)
	}

	frame, err := ParseFrame(adpcm)
	if err != nil {
		t.Fatalf("parse frame failed: %v", err)
	}
	if frame.Type != TypeADPCM || frame.Sequence != 7 || frame.SampleCount != 4 || frame.Checksum != 99 {
		t.Errorf("unexpected header %+v", frame.Header)
	}
	if len(frame.Payload) != 2 || frame.Payload[0] != 0x12 {
		t.Errorf("unexpected payload %v", frame.Payload)
	}

	opus, err := EncodeOpus(8, 320, []byte{0xFC})
	if err != nil {
		t.Fatalf("encode opus failed: %v", err)
	}
	frame, err = ParseFrame(opus)
	if err != nil {
		t.Fatalf("parse opus frame failed: %v", err)
	}
	if frame.Type != TypeOpus || frame.SampleCount != 320 {
		t.Errorf("unexpected opus header %+v", frame.Header)
	}
}

func TestEncodeADPCMShortPayload(t *testing.T) {
	if _, err := EncodeADPCM(1, 5, 0, []byte{0x00, 0x00}); err == nil {
		t.Error("expected error for 5 samples in 2 bytes")
	}
}

func TestParseFrameChecksTypeFirst(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"unknown type, zero count", []byte{0xA5, 0x07, 0, 1, 0, 0, 0, 0}, ErrBadMagicOrType},
		{"unknown type, oversized count", []byte{0xA5, 0x09, 0, 1, 0xFF, 0xFF, 0, 0}, ErrBadMagicOrType},
		{"known type, zero count", []byte{0xA5, 0x02, 0, 1, 0, 0, 0, 0}, ErrInvalidSampleCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEncodePCM(t *testing.T) {
	samples := []int16{100, -200, 300}
	payload := []byte{0x00, 0x64, 0xFF, 0x38, 0x01, 0x2C}

	frame, err := EncodePCM(5, len(samples), Checksum(samples), payload)
	if err != nil {
		t.Fatalf("EncodePCM failed: %v", err)
	}
	want, err := Encode(5, samples)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(frame) != string(want) {
		t.Errorf("EncodePCM and Encode disagree:\n%x\n%x", frame, want)
	}

	if _, err := EncodePCM(5, 3, 0, payload[:5]); err == nil {
		t.Error("expected error for short payload")
	}
	if _, err := EncodePCM(5, 0, 0, nil); !errors.Is(err, ErrInvalidSampleCount) {
		t.Errorf("expected ErrInvalidSampleCount, got %v", err)
	}
}
