// ABOUTME: Malgo-based render pipeline
// ABOUTME: Opens one playback device per generator and fills it from the device callback
package host

import (
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/gen2brain/malgo"
)

// Malgo renders each generator through its own playback device
type Malgo struct {
	format audio.Format

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	devices  map[audio.Generator]*malgo.Device
}

// NewMalgo creates a malgo pipeline
func NewMalgo(format audio.Format) *Malgo {
	return &Malgo{
		format:  format,
		devices: make(map[audio.Generator]*malgo.Device),
	}
}

// Start opens a playback device that pulls from g
func (m *Malgo) Start(g audio.Generator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[g]; ok {
		return nil
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	channels := m.format.Channels
	renderer := NewRenderer(g, m.format.SampleRate, channels)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(m.format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	var samples []float32
	onData := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if n*4 > len(pOutputSample) {
			n = len(pOutputSample) / 4
		}
		samples = grow(samples, n)
		renderer.Fill(samples)
		audio.PutFloat32s(pOutputSample, samples)
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	g.OnBeginGenerate()

	if err := device.Start(); err != nil {
		device.Uninit()
		g.OnEndGenerate()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	m.devices[g] = device
	log.Printf("Playback device started: %dHz, %d channels", m.format.SampleRate, channels)
	return nil
}

// Stop closes g's playback device
func (m *Malgo) Stop(g audio.Generator) {
	m.mu.Lock()
	device, ok := m.devices[g]
	delete(m.devices, g)
	m.mu.Unlock()

	if ok {
		if err := device.Stop(); err != nil {
			log.Printf("Warning: playback device stop error: %v", err)
		}
		device.Uninit()
	}
	g.OnEndGenerate()
}

// Close stops every device and releases the context
func (m *Malgo) Close() error {
	m.mu.Lock()
	gens := make([]audio.Generator, 0, len(m.devices))
	for g := range m.devices {
		gens = append(gens, g)
	}
	m.mu.Unlock()

	for _, g := range gens {
		m.Stop(g)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}
