//go:build portaudio

// ABOUTME: PortAudio capture implementation
// ABOUTME: Cross-platform microphone capture using PortAudio callbacks
package input

import (
	"fmt"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio captures from a PortAudio input device
type PortAudio struct {
	mu          sync.Mutex
	initialized bool
	stream      *portaudio.Stream
	devices     []*portaudio.DeviceInfo
}

// NewPortAudio creates a new PortAudio capture backend
func NewPortAudio() Capture {
	return &PortAudio{}
}

// ensureInitialized initializes PortAudio (must hold p.mu)
func (p *PortAudio) ensureInitialized() error {
	if p.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	p.initialized = true
	return nil
}

// Devices lists devices with at least one input channel
func (p *PortAudio) Devices() ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var def *portaudio.DeviceInfo
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		def = d
	}

	p.devices = p.devices[:0]
	var infos []DeviceInfo
	for _, d := range all {
		if d.MaxInputChannels <= 0 {
			continue
		}
		infos = append(infos, DeviceInfo{
			Index:               len(p.devices),
			Name:                d.Name,
			InputChannels:       d.MaxInputChannels,
			PreferredSampleRate: int(d.DefaultSampleRate),
			IsDefault:           def != nil && d.Name == def.Name,
		})
		p.devices = append(p.devices, d)
	}
	return infos, nil
}

// DefaultDevice returns the PortAudio default input device
func (p *PortAudio) DefaultDevice() (DeviceInfo, error) {
	devices, err := p.Devices()
	if err != nil {
		return DeviceInfo{}, err
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	if len(devices) == 0 {
		return DeviceInfo{}, ErrNoDevices
	}
	return devices[0], nil
}

// OpenStream opens a callback-driven input stream
func (p *PortAudio) OpenStream(params StreamParams, onCapture CaptureFunc) error {
	var info DeviceInfo
	var err error
	if params.DeviceIndex == DefaultDeviceIndex {
		info, err = p.DefaultDevice()
	} else {
		var devices []DeviceInfo
		devices, err = p.Devices()
		if err == nil && (params.DeviceIndex < 0 || params.DeviceIndex >= len(devices)) {
			err = fmt.Errorf("capture device index %d out of range (%d devices)", params.DeviceIndex, len(devices))
		}
		if err == nil {
			info = devices[params.DeviceIndex]
		}
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return ErrStreamAlreadyOpen
	}

	params = resolve(params, info)
	channels := params.Channels
	sampleRate := params.SampleRate

	sp := portaudio.LowLatencyParameters(p.devices[info.Index], nil)
	sp.Input.Channels = channels
	sp.SampleRate = float64(sampleRate)
	sp.FramesPerBuffer = params.FramesPerBuffer

	stream, err := portaudio.OpenStream(sp, func(in []float32) {
		onCapture(in, len(in)/channels, channels, sampleRate)
	})
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	p.stream = stream
	log.Printf("Capture device opened: %s (%dHz, %d channels, %d frames/buffer)",
		info.Name, sampleRate, channels, params.FramesPerBuffer)
	return nil
}

// StartStream starts the stream
func (p *PortAudio) StartStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrStreamNotOpen
	}
	return p.stream.Start()
}

// StopStream stops the stream after pending buffers play out
func (p *PortAudio) StopStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrStreamNotOpen
	}
	return p.stream.Stop()
}

// AbortStream stops the stream immediately and closes it
func (p *PortAudio) AbortStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	if err := p.stream.Abort(); err != nil {
		log.Printf("Warning: portaudio abort error: %v", err)
	}
	return p.closeLocked()
}

// CloseStream releases the stream and terminates PortAudio
func (p *PortAudio) CloseStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

// closeLocked closes the stream (must hold p.mu)
func (p *PortAudio) closeLocked() error {
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			return err
		}
		p.stream = nil
	}
	if p.initialized {
		p.initialized = false
		return portaudio.Terminate()
	}
	return nil
}

// IsStreamOpen reports whether a stream is open
func (p *PortAudio) IsStreamOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}
