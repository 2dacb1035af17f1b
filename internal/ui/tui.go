// ABOUTME: Monitor program wiring for the terminal UI
// ABOUTME: Owns the bubbletea program, its control channels and the status refresh loop
package ui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// DefaultRefreshInterval is how often the monitor polls its status source
const DefaultRefreshInterval = 500 * time.Millisecond

// VolumeChangeMsg reports a volume or mute change made in the UI
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg reports that the user quit the UI
type QuitMsg struct{}

// VolumeControl carries user input out of the UI
type VolumeControl struct {
	Changes chan VolumeChangeMsg
	Quit    chan QuitMsg
}

// NewVolumeControl creates buffered control channels
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

// NewModel creates a model at full volume with no status yet
func NewModel(volCtrl *VolumeControl) Model {
	return Model{
		volume:     100,
		volumeCtrl: volCtrl,
	}
}

// StatusSource supplies the snapshot the monitor renders
type StatusSource interface {
	Snapshot() StatusMsg
}

// Monitor runs the full-screen status view for a session
type Monitor struct {
	program  *tea.Program
	controls *VolumeControl
	source   StatusSource
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor that polls source every interval.
// A non-positive interval selects DefaultRefreshInterval.
func NewMonitor(source StatusSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	controls := NewVolumeControl()
	return &Monitor{
		program:  tea.NewProgram(NewModel(controls), tea.WithAltScreen()),
		controls: controls,
		source:   source,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Controls returns the channels carrying volume changes and quit requests
func (m *Monitor) Controls() *VolumeControl {
	return m.controls
}

// Run blocks until the program exits
func (m *Monitor) Run() error {
	m.wg.Add(1)
	go m.refreshLoop()

	_, err := m.program.Run()
	m.halt()
	m.wg.Wait()
	return err
}

// Stop asks the program to exit
func (m *Monitor) Stop() {
	m.halt()
	m.program.Quit()
}

func (m *Monitor) halt() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) refreshLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		// Send blocks until the program reads or exits
		m.program.Send(m.source.Snapshot())

		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
		}
	}
}
