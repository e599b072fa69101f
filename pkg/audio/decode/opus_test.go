// ABOUTME: Tests for Opus decoder
// ABOUTME: Tests Opus decoder creation and validation
package decode

import (
	"testing"

	"github.com/Sendspin/micrelay/pkg/audio"
)

func TestNewOpus(t *testing.T) {
	decoder, err := NewOpus(audio.Mono16(audio.CodecOpus, 16000))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	if decoder == nil {
		t.Fatal("expected decoder to be created")
	}
}

func TestNewOpus_InvalidCodec(t *testing.T) {
	decoder, err := NewOpus(audio.Mono16(audio.CodecPCM, 16000))
	if err == nil {
		t.Fatal("expected error for invalid codec, got nil")
	}

	if decoder != nil {
		t.Fatal("expected decoder to be nil for invalid codec")
	}

	expectedError := "invalid codec for Opus decoder: pcm"
	if err.Error() != expectedError {
		t.Errorf("expected error %q, got %q", expectedError, err.Error())
	}
}

func TestNewOpus_InvalidSampleRate(t *testing.T) {
	// Opus only runs at 8, 12, 16, 24 and 48 kHz
	decoder, err := NewOpus(audio.Mono16(audio.CodecOpus, 44100))
	if err == nil {
		t.Fatal("expected error for 44.1kHz")
	}
	if decoder != nil {
		t.Fatal("if error is returned, decoder must be nil")
	}
}

func TestOpusDecodeGarbage(t *testing.T) {
	decoder, err := NewOpus(audio.Mono16(audio.CodecOpus, 16000))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer decoder.Close()

	if _, err := decoder.Decode(nil); err == nil {
		t.Error("expected error decoding empty packet")
	}
}
