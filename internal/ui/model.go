// ABOUTME: Bubbletea model for the listener TUI
// ABOUTME: Defines listener state, key handling and rendering
package ui

import (
	"fmt"

	"github.com/Sendspin/micrelay/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

const volumeStep = 5

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string

	// Stream
	codec      string
	sampleRate int

	// Relay
	producers int
	consumers int
	device    string

	// Microphone
	micKnown   bool
	micEnabled bool

	// Playback
	volume int
	muted  bool

	// Stats
	received       int64
	played         int64
	late           int64
	lost           int64
	dropped        uint64
	checksumErrors int64
	bufferDepth    int

	lastError string

	// Debug
	showDebug  bool
	goroutines int
	memAlloc   uint64

	controls *Controls

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderRelay()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection status
func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s", m.serverName)
	}

	format := "-"
	if m.codec != "" {
		format = fmt.Sprintf("%s %dHz mono", m.codec, m.sampleRate)
	}

	return fmt.Sprintf(`┌─ Mic Relay Listener ─────────────────────────────────┐
│ Status: %-45s │
│ Format: %-45s │
├──────────────────────────────────────────────────────┤
`, truncate(connStatus, 45), format)
}

// renderRelay renders device counts and microphone state
func (m Model) renderRelay() string {
	mic := "unknown (c to check)"
	if m.micKnown {
		mic = "off"
		if m.micEnabled {
			mic = "on"
		}
	}

	device := m.device
	if device == "" {
		device = "-"
	}

	s := fmt.Sprintf("│ Devices: %-3d Listeners: %-26d │\n", m.producers, m.consumers)
	if m.producers == 0 {
		s += "│   No ESP32 devices connected                         │\n"
	}
	s += fmt.Sprintf("│ Device:  %-44s │\n", truncate(device, 44))
	s += fmt.Sprintf("│ Mic:     %-44s │\n", mic)
	return s
}

// renderControls renders volume and buffer status
func (m Model) renderControls() string {
	muteText := ""
	if m.muted {
		muteText = " (muted)"
	}

	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d%%%-26s │\n"+
		"│ Buffer: %-3d packets%-34s │\n",
		volumeBar, m.volume, muteText, m.bufferDepth, "")
}

// renderStats renders playback statistics
func (m Model) renderStats() string {
	s := fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ RX: %-8d Played: %-8d Dropped: %-12d │
│ Late: %-6d Lost: %-8d Checksum: %-12d │
`, m.received, m.played, m.dropped, m.late, m.lost, m.checksumErrors)
	if m.lastError != "" {
		s += fmt.Sprintf("│ Error: %-46s │\n", truncate(m.lastError, 46))
	}
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume m:Mute o/f:Mic on/off c:Check d:Debug q:Quit │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders runtime information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Goroutines: %-38d │
│   Heap: %-44s │
`, m.goroutines, fmt.Sprintf("%.1f MiB", float64(m.memAlloc)/(1<<20)))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "up":
		m.volume = clampVolume(m.volume + volumeStep)
		m.controls.volume(m.volume, m.muted)
	case "down":
		m.volume = clampVolume(m.volume - volumeStep)
		m.controls.volume(m.volume, m.muted)
	case "m":
		m.muted = !m.muted
		m.controls.volume(m.volume, m.muted)
	case "o":
		m.controls.command(protocol.CmdMicOn)
	case "f":
		m.controls.command(protocol.CmdMicOff)
	case "c":
		m.controls.command(protocol.CmdMicCheck)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
	}
	if msg.Relay != nil {
		m.producers = msg.Relay.Producers
		m.consumers = msg.Relay.Consumers
	}
	if msg.Device != "" {
		m.device = msg.Device
	}
	if msg.Mic != nil {
		m.micKnown = true
		m.micEnabled = *msg.Mic
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
	if msg.Stats != nil {
		m.received = msg.Stats.Received
		m.played = msg.Stats.Played
		m.late = msg.Stats.Late
		m.lost = msg.Stats.Lost
		m.dropped = msg.Stats.Dropped
		m.checksumErrors = msg.Stats.ChecksumErrors
		m.bufferDepth = msg.Stats.BufferDepth
	}
	if msg.Error != "" {
		m.lastError = msg.Error
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
	}
}

// RelayCounts is the producer and consumer count from a status broadcast
type RelayCounts struct {
	Producers int
	Consumers int
}

// PlaybackStats mirrors the listener's counters
type PlaybackStats struct {
	Received       int64
	Played         int64
	Late           int64
	Lost           int64
	Dropped        uint64
	ChecksumErrors int64
	BufferDepth    int
}

// StatusMsg updates TUI state. Nil and zero fields are left unchanged.
type StatusMsg struct {
	Connected  *bool
	ServerName string
	Codec      string
	SampleRate int
	Relay      *RelayCounts
	Device     string
	Mic        *bool
	Volume     *int
	Muted      *bool
	Stats      *PlaybackStats
	Error      string
	Goroutines int
	MemAlloc   uint64
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
