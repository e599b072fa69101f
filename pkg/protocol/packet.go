// ABOUTME: Binary AudioPacket framing shared by devices, relay and listeners
// ABOUTME: 8-byte big-endian header followed by int16 samples or ADPCM bytes
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

const (
	// Magic is the first byte of every audio frame
	Magic byte = 0xA5

	// HeaderSize is the fixed header length in bytes
	HeaderSize = 8

	// MaxSampleCount bounds the declared sample count of a single packet
	MaxSampleCount = 8192

	// MinChecksumTolerance is the smallest allowed checksum drift before a warning
	MinChecksumTolerance = 100
)

// Packet types carried in header byte 1
const (
	TypeAudio byte = 1 // big-endian int16 PCM
	TypeADPCM byte = 2 // IMA ADPCM, two samples per byte
	TypeOpus  byte = 3 // one Opus packet, relay to listener only
)

var (
	// ErrTooSmall is returned for buffers shorter than the header
	ErrTooSmall = errors.New("packet too small")

	// ErrBadMagicOrType is returned when byte 0 or byte 1 is not recognised
	ErrBadMagicOrType = errors.New("bad magic or packet type")

	// ErrInvalidSampleCount is returned when the declared count is 0 or above MaxSampleCount
	ErrInvalidSampleCount = errors.New("invalid sample count")
)

// Header is the decoded 8-byte frame header
type Header struct {
	Type        byte
	Sequence    uint16
	SampleCount uint16
	Checksum    uint16
}

// AudioPacket is a parsed PCM audio frame
type AudioPacket struct {
	Header

	// Samples holds the payload; its length may be below the declared
	// SampleCount when the frame arrived truncated
	Samples []int16

	// Truncated reports that the buffer was shorter than the header implied
	Truncated bool

	// Computed is the checksum of Samples as received
	Computed uint16
}

// ChecksumMismatch reports whether the header checksum drifts from the
// computed one by more than max(len(Samples), MinChecksumTolerance).
// Mismatches are advisory: callers log them and keep the packet.
func (p *AudioPacket) ChecksumMismatch() bool {
	tolerance := len(p.Samples)
	if tolerance < MinChecksumTolerance {
		tolerance = MinChecksumTolerance
	}
	diff := int(p.Checksum) - int(p.Computed)
	if diff < 0 {
		diff = -diff
	}
	return diff > tolerance
}

// Frame is any header-framed binary message: PCM, ADPCM or Opus
type Frame struct {
	Header
	Payload []byte
}

// ParseHeader decodes the fixed header and validates magic, type and
// sample count in that order. With no types given any type is accepted.
func ParseHeader(buf []byte, types ...byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTooSmall, len(buf))
	}
	if buf[0] != Magic {
		return Header{}, fmt.Errorf("%w: magic 0x%02X", ErrBadMagicOrType, buf[0])
	}
	if len(types) > 0 && !slices.Contains(types, buf[1]) {
		return Header{}, fmt.Errorf("%w: type %d", ErrBadMagicOrType, buf[1])
	}

	h := Header{
		Type:        buf[1],
		Sequence:    binary.BigEndian.Uint16(buf[2:4]),
		SampleCount: binary.BigEndian.Uint16(buf[4:6]),
		Checksum:    binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.SampleCount == 0 || h.SampleCount > MaxSampleCount {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidSampleCount, h.SampleCount)
	}
	return h, nil
}

// Parse decodes a PCM audio frame (type 1).
func Parse(buf []byte) (*AudioPacket, error) {
	h, err := ParseHeader(buf, TypeAudio)
	if err != nil {
		return nil, err
	}

	n := int(h.SampleCount)
	available := (len(buf) - HeaderSize) / 2
	truncated := false
	if n > available {
		n = available
		truncated = true
	}

	samples := make([]int16, n)
	for i := range samples {
		off := HeaderSize + i*2
		samples[i] = int16(binary.BigEndian.Uint16(buf[off : off+2]))
	}

	return &AudioPacket{
		Header:    h,
		Samples:   samples,
		Truncated: truncated,
		Computed:  Checksum(samples),
	}, nil
}

// ParseFrame decodes the header of any known frame type and returns the raw
// payload. PCM and ADPCM payloads are clamped to what the buffer holds.
func ParseFrame(buf []byte) (*Frame, error) {
	h, err := ParseHeader(buf, TypeAudio, TypeADPCM, TypeOpus)
	if err != nil {
		return nil, err
	}

	return &Frame{Header: h, Payload: buf[HeaderSize:]}, nil
}

// Checksum sums absolute sample values modulo 65536.
func Checksum(samples []int16) uint16 {
	var sum uint32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		sum += uint32(v)
	}
	return uint16(sum)
}

// Encode frames PCM samples as a type 1 packet.
func Encode(seq uint16, samples []int16) ([]byte, error) {
	if len(samples) == 0 || len(samples) > MaxSampleCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleCount, len(samples))
	}

	buf := make([]byte, HeaderSize+len(samples)*2)
	putHeader(buf, Header{
		Type:        TypeAudio,
		Sequence:    seq,
		SampleCount: uint16(len(samples)),
		Checksum:    Checksum(samples),
	})
	for i, s := range samples {
		binary.BigEndian.PutUint16(buf[HeaderSize+i*2:], uint16(s))
	}
	return buf, nil
}

// EncodeADPCM frames an ADPCM payload as a type 2 packet. sampleCount and
// checksum describe the decoded samples.
func EncodeADPCM(seq uint16, sampleCount int, checksum uint16, payload []byte) ([]byte, error) {
	if sampleCount <= 0 || sampleCount > MaxSampleCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleCount, sampleCount)
	}
	if need := (sampleCount + 1) / 2; len(payload) < need {
		return nil, fmt.Errorf("adpcm payload too short: expected %d bytes, got %d", need, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, Header{
		Type:        TypeADPCM,
		Sequence:    seq,
		SampleCount: uint16(sampleCount),
		Checksum:    checksum,
	})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodePCM frames an already encoded big-endian PCM payload as a type 1
// packet. The payload must hold 2*sampleCount bytes.
func EncodePCM(seq uint16, sampleCount int, checksum uint16, payload []byte) ([]byte, error) {
	if sampleCount <= 0 || sampleCount > MaxSampleCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleCount, sampleCount)
	}
	if need := sampleCount * 2; len(payload) != need {
		return nil, fmt.Errorf("pcm payload size mismatch: expected %d bytes, got %d", need, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, Header{
		Type:        TypeAudio,
		Sequence:    seq,
		SampleCount: uint16(sampleCount),
		Checksum:    checksum,
	})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeOpus frames one Opus packet as a type 3 frame.
func EncodeOpus(seq uint16, sampleCount int, payload []byte) ([]byte, error) {
	if sampleCount <= 0 || sampleCount > MaxSampleCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleCount, sampleCount)
	}

	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, Header{
		Type:        TypeOpus,
		Sequence:    seq,
		SampleCount: uint16(sampleCount),
	})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

func putHeader(buf []byte, h Header) {
	buf[0] = Magic
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint16(buf[4:6], h.SampleCount)
	binary.BigEndian.PutUint16(buf[6:8], h.Checksum)
}
