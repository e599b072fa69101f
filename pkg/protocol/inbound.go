// ABOUTME: Classifies raw inbound WebSocket messages into a closed set of kinds
// ABOUTME: Binary frames, command tokens and typed JSON are decoded in one place
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the shape of an inbound message
type Kind int

const (
	KindUnknown Kind = iota
	KindAudio
	KindCompressedAudio
	KindCommand
	KindHello
	KindDeviceInfo
	KindTelemetry
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindCompressedAudio:
		return "compressed_audio"
	case KindCommand:
		return "command"
	case KindHello:
		return "hello"
	case KindDeviceInfo:
		return "device_info"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Inbound is a decoded inbound message. Only the fields matching Kind are set.
type Inbound struct {
	Kind Kind

	// Audio and CompressedAudio
	Packet *AudioPacket
	Frame  *Frame

	// Command holds the action token. Structured commands with an
	// unrecognised action still decode as KindCommand.
	Command string

	Hello      *Hello
	DeviceInfo *DeviceInfo

	// Type is the JSON "type" of telemetry and unknown JSON messages
	Type string

	// Raw is the original payload
	Raw []byte

	// Err explains why a message decoded as KindUnknown
	Err error
}

// Decode classifies one WebSocket message. It never fails; undecodable
// input is returned as KindUnknown with Err set.
func Decode(binary bool, data []byte) Inbound {
	in := Inbound{Raw: data}
	if binary {
		return decodeBinary(in, data)
	}
	return decodeText(in, data)
}

func decodeBinary(in Inbound, data []byte) Inbound {
	frame, err := ParseFrame(data)
	if err != nil {
		in.Err = err
		return in
	}

	switch frame.Type {
	case TypeAudio:
		pkt, err := Parse(data)
		if err != nil {
			in.Err = err
			return in
		}
		in.Kind = KindAudio
		in.Packet = pkt
		in.Frame = frame
	case TypeADPCM:
		in.Kind = KindCompressedAudio
		in.Frame = frame
	default:
		in.Err = fmt.Errorf("%w: type %d not accepted inbound", ErrBadMagicOrType, frame.Type)
	}
	return in
}

func decodeText(in Inbound, data []byte) Inbound {
	token := strings.TrimSpace(string(data))
	if IsCommand(token) {
		in.Kind = KindCommand
		in.Command = token
		return in
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		in.Err = fmt.Errorf("not a command or JSON message: %w", err)
		return in
	}
	in.Type = env.Type

	switch env.Type {
	case TypeCommand:
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			in.Err = fmt.Errorf("invalid command: %w", err)
			return in
		}
		in.Kind = KindCommand
		in.Command = strings.TrimSpace(cmd.Action)
	case TypeHello:
		var hello Hello
		if err := json.Unmarshal(data, &hello); err != nil {
			in.Err = fmt.Errorf("invalid hello: %w", err)
			return in
		}
		in.Kind = KindHello
		in.Hello = &hello
	case TypeDeviceInfo:
		var info DeviceInfo
		if err := json.Unmarshal(data, &info); err != nil {
			in.Err = fmt.Errorf("invalid device_info: %w", err)
			return in
		}
		in.Kind = KindDeviceInfo
		in.DeviceInfo = &info
	case TypeInfo, TypeMicStatus, TypeAudioJSON:
		in.Kind = KindTelemetry
	default:
		in.Err = fmt.Errorf("unhandled message type %q", env.Type)
	}
	return in
}
