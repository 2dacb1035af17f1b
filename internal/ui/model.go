// ABOUTME: Bubbletea model for the monitor TUI
// ABOUTME: Shows role, per-stream buffer state, network counters and discovered senders
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// StreamRow is one stream line of the monitor
type StreamRow struct {
	Name       string
	State      string
	Network    bool
	Channels   int
	SampleRate int
	Enqueued   int
	Rendered   uint64
	Dropped    uint64
	Sent       uint64
	Overflows  uint64
}

// NetworkStats are the distribution counters shown in the footer
type NetworkStats struct {
	Sent          uint64
	SendErrors    uint64
	Received      uint64
	DecodeErrors  uint64
	Undeliverable uint64
}

// StatusMsg replaces the monitor's view of the session
type StatusMsg struct {
	Role    string
	Address string
	Streams []StreamRow
	Network NetworkStats
	Senders []string
}

// Model represents the TUI state
type Model struct {
	// Session
	role    string
	address string

	streams []StreamRow
	network NetworkStats
	senders []string

	// Playback
	volume int
	muted  bool

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int

	volumeCtrl *VolumeControl
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

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStreams())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderNetwork())

	if m.showDebug {
		b.WriteString(m.renderDebug())
	}

	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	role := m.role
	if role == "" {
		role = "starting"
	}

	return fmt.Sprintf(`┌─ Resonate Mic ───────────────────────────────────────┐
│ Role:    %-44s │
│ Address: %-44s │
├──────────────────────────────────────────────────────┤
`, role, truncate(m.address, 44))
}

func (m Model) renderStreams() string {
	if len(m.streams) == 0 {
		return "│ No streams                                           │\n"
	}

	var b strings.Builder
	for _, s := range m.streams {
		source := "mic"
		if s.Network {
			source = "net"
		}
		b.WriteString(fmt.Sprintf("│ %-12s %-9s %s %s %-15s │\n",
			truncate(s.Name, 12), s.State, source, channelName(s.Channels), formatRate(s.SampleRate)))
		b.WriteString(fmt.Sprintf("│   Buffer: [%s] %-31s │\n",
			renderBar(s.Enqueued, bufferScale, 10), fmt.Sprintf("%d samples", s.Enqueued)))
		b.WriteString(fmt.Sprintf("│   Rendered: %-10d Sent: %-9d Dropped: %-7d │\n",
			s.Rendered, s.Sent, s.Dropped))
	}
	return b.String()
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	return fmt.Sprintf("├──────────────────────────────────────────────────────┤\n"+
		"│ Volume: [%s] %-31s │\n",
		renderBar(m.volume, 100, 10), fmt.Sprintf("%d%%%s", m.volume, muteIcon))
}

func (m Model) renderNetwork() string {
	return fmt.Sprintf("│ Net:  TX: %-8d RX: %-8d Bad: %-6d Lost: %-6d │\n",
		m.network.Sent, m.network.Received, m.network.DecodeErrors, m.network.Undeliverable)
}

func (m Model) renderDebug() string {
	var b strings.Builder
	b.WriteString("│ DEBUG:                                               │\n")
	b.WriteString(fmt.Sprintf("│   Send errors: %-37d │\n", m.network.SendErrors))
	for _, s := range m.streams {
		b.WriteString(fmt.Sprintf("│   %-12s overflows: %-25d │\n", truncate(s.Name, 12), s.Overflows))
	}
	if len(m.senders) == 0 {
		b.WriteString("│   Senders: (none discovered)                         │\n")
	}
	for _, name := range m.senders {
		b.WriteString(fmt.Sprintf("│   Sender: %-42s │\n", truncate(name, 42)))
	}
	return b.String()
}

func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		if m.volume < 100 {
			m.volume += 5
			if m.volume > 100 {
				m.volume = 100
			}
			m.sendVolume()
		}
	case "down":
		if m.volume > 0 {
			m.volume -= 5
			if m.volume < 0 {
				m.volume = 0
			}
			m.sendVolume()
		}
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Role != "" {
		m.role = msg.Role
	}
	if msg.Address != "" {
		m.address = msg.Address
	}
	m.streams = msg.Streams
	m.network = msg.Network
	m.senders = msg.Senders
}

// bufferScale is the sample count drawn as a full buffer bar (one second
// of stereo at 48kHz)
const bufferScale = 2 * 48000

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono  "
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch   ", channels)
	}
}

func formatRate(rate int) string {
	if rate%1000 == 0 {
		return fmt.Sprintf("%dkHz", rate/1000)
	}
	return fmt.Sprintf("%.1fkHz", float64(rate)/1000)
}
