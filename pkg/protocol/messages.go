// ABOUTME: JSON control message definitions for the relay protocol
// ABOUTME: Identification, commands, status, errors and device telemetry
package protocol

// Message types carried in the "type" field
const (
	TypeHello      = "hello"
	TypeDeviceInfo = "device_info"
	TypeCommand    = "command"
	TypeStatus     = "status"
	TypeError      = "error"
	TypeWelcome    = "welcome"
	TypeInfo       = "info"
	TypeMicStatus  = "mic_status"
	TypeAudioJSON  = "audio"
)

// Client identifiers used in hello messages
const (
	ClientBrowser = "browser"
	ClientESP32   = "esp32"
)

// Command tokens accepted from consumers and forwarded to producers
const (
	CmdMicOn    = "mic_on"
	CmdMicOff   = "mic_off"
	CmdMicCheck = "mic_check"
	CmdFlashOn  = "flash_on"
	CmdFlashOff = "flash_off"
	CmdFlash    = "flash"
)

var commands = map[string]bool{
	CmdMicOn:    true,
	CmdMicOff:   true,
	CmdMicCheck: true,
	CmdFlashOn:  true,
	CmdFlashOff: true,
	CmdFlash:    true,
}

// IsCommand reports whether token is a known control command
func IsCommand(token string) bool {
	return commands[token]
}

// Envelope is used to peek at the type of a JSON message
type Envelope struct {
	Type string `json:"type"`
}

// Hello identifies a connection explicitly
type Hello struct {
	Type   string `json:"type"`
	Client string `json:"client"`
	Name   string `json:"name,omitempty"`
	Codec  string `json:"codec,omitempty"` // "pcm" (default) or "opus"
}

// DeviceInfo is announced by devices after connecting
type DeviceInfo struct {
	Type    string `json:"type"`
	Device  string `json:"device"`
	MAC     string `json:"mac,omitempty"`
	IP      string `json:"ip,omitempty"`
	RSSI    int    `json:"rssi,omitempty"`
	Version string `json:"version,omitempty"`
}

// Command is the structured form of a control token
type Command struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// Status summarises the relay. Producer and consumer counts are sent under
// both the generic and the device-specific names.
type Status struct {
	Type           string `json:"type"`
	Clients        int    `json:"clients"`
	Producers      int    `json:"producers"`
	Consumers      int    `json:"consumers"`
	ESP32Devices   int    `json:"esp32Devices"`
	BrowserClients int    `json:"browserClients"`
	AudioPackets   uint64 `json:"audioPackets"`
}

// Error is sent to a single sender when its request cannot be served
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Welcome acknowledges a hello with the assigned connection ID and role
type Welcome struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Info is a free-form device notice
type Info struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MicStatus answers mic_check
type MicStatus struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Enabled   bool   `json:"enabled"`
}

// AudioJSON is the JSON-wrapped form of decoded audio
type AudioJSON struct {
	Type       string  `json:"type"`
	Format     string  `json:"format"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Seq        uint16  `json:"seq"`
	Data       []int16 `json:"data"`
}

// NewStatus builds a status message from aggregate counts
func NewStatus(clients, producers, consumers int, audioPackets uint64) Status {
	return Status{
		Type:           TypeStatus,
		Clients:        clients,
		Producers:      producers,
		Consumers:      consumers,
		ESP32Devices:   producers,
		BrowserClients: consumers,
		AudioPackets:   audioPackets,
	}
}

// NewError builds an error notification
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
