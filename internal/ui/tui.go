// ABOUTME: TUI initialization and control channels
// ABOUTME: Wraps the bubbletea program for the listener UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg carries a volume or mute change from the TUI
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg signals that the user asked to quit
type QuitMsg struct{}

// Controls carries user actions from the TUI to the listener
type Controls struct {
	Changes  chan VolumeChangeMsg
	Commands chan string
	Quit     chan QuitMsg
}

// NewControls creates the control channels
func NewControls() *Controls {
	return &Controls{
		Changes:  make(chan VolumeChangeMsg, 10),
		Commands: make(chan string, 10),
		Quit:     make(chan QuitMsg, 1),
	}
}

func (c *Controls) volume(volume int, muted bool) {
	if c == nil {
		return
	}
	select {
	case c.Changes <- VolumeChangeMsg{Volume: volume, Muted: muted}:
	default:
	}
}

func (c *Controls) command(action string) {
	if c == nil {
		return
	}
	select {
	case c.Commands <- action:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls, volume int) Model {
	return Model{
		volume:   clampVolume(volume),
		controls: controls,
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls, volume int) *tea.Program {
	return tea.NewProgram(NewModel(controls, volume), tea.WithAltScreen())
}
