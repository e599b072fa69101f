// ABOUTME: Server TUI for displaying connected devices, listeners and stats
// ABOUTME: Real-time relay status display using bubbletea and lipgloss
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sendspin/micrelay/pkg/relay"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{}

	mu      sync.Mutex
	stopped bool
}

// ServerStatus holds relay state for the TUI
type ServerStatus struct {
	Name    string
	Addr    string
	Counts  relay.Counts
	Packets uint64
	Clients []relay.ClientInfo
}

// serverModel is the bubbletea model for the server TUI
type serverModel struct {
	status    ServerStatus
	startTime time.Time
	now       time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type serverStatusMsg ServerStatus

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

func (m serverModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m serverModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickEvery()

	case serverStatusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m serverModel) View() string {
	if m.quitting {
		return "Shutting down relay...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Mic Relay"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Server", m.status.Name)
	field("Listening", m.status.Addr)
	field("Uptime", m.uptime().String())
	field("Audio packets", fmt.Sprintf("%d", m.status.Packets))
	b.WriteString("\n")

	producers, consumers, other := splitClients(m.status.Clients)

	b.WriteString(sectionStyle.Render(fmt.Sprintf("ESP32 Devices (%d)", m.status.Counts.Producers)))
	b.WriteString("\n")
	if len(producers) == 0 {
		b.WriteString(valueStyle.Render("  No ESP32 devices connected"))
		b.WriteString("\n")
	}
	for _, c := range producers {
		b.WriteString(clientLine(c, fmt.Sprintf("in: %d pkts", c.PacketsIn)))
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Listeners (%d)", m.status.Counts.Consumers)))
	b.WriteString("\n")
	if len(consumers) == 0 {
		b.WriteString(valueStyle.Render("  No listeners connected"))
		b.WriteString("\n")
	}
	for _, c := range consumers {
		b.WriteString(clientLine(c, fmt.Sprintf("%s, out: %d, dropped: %d", c.Codec, c.FramesOut, c.Dropped)))
	}

	if len(other) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Unclassified (%d)", len(other))))
		b.WriteString("\n")
		for _, c := range other {
			b.WriteString(clientLine(c, c.UserAgent))
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func (m serverModel) uptime() time.Duration {
	now := m.now
	if now.IsZero() {
		now = time.Now()
	}
	return now.Sub(m.startTime).Round(time.Second)
}

func splitClients(clients []relay.ClientInfo) (producers, consumers, other []relay.ClientInfo) {
	for _, c := range clients {
		switch c.Role {
		case relay.RoleProducer.String():
			producers = append(producers, c)
		case relay.RoleConsumer.String():
			consumers = append(consumers, c)
		default:
			other = append(other, c)
		}
	}
	return producers, consumers, other
}

func clientLine(c relay.ClientInfo, detail string) string {
	name := c.Name
	if name == "" {
		name = c.Device
	}
	if name == "" {
		name = c.RemoteAddr
	}
	line := fmt.Sprintf("  • %s", name)
	if !c.Alive {
		line += staleStyle.Render(" (no pong)")
	}
	return line + valueStyle.Render(" ("+detail+")") + "\n"
}

// NewServerTUI creates a new server TUI
func NewServerTUI(name, addr string) *ServerTUI {
	t := &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
	m := serverModel{
		status:    ServerStatus{Name: name, Addr: addr},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}
	t.program = tea.NewProgram(m, tea.WithAltScreen())
	return t
}

// Start runs the TUI until the user quits or Stop is called
func (t *ServerTUI) Start() error {
	go func() {
		for status := range t.updates {
			t.program.Send(serverStatusMsg(status))
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.updates <- status:
	default:
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.program.Quit()
	close(t.updates)
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
