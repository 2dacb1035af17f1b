// ABOUTME: Malgo-based capture implementation
// ABOUTME: Uses miniaudio via malgo for device enumeration and float32 capture callbacks
package input

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Malgo captures from a miniaudio device
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	devices  []malgo.DeviceInfo

	// Scratch buffer reused by the data callback
	samples []float32
}

// NewMalgo creates a new Malgo capture backend
func NewMalgo() Capture {
	return &Malgo{}
}

// ensureContext initializes the malgo context (must hold m.mu)
func (m *Malgo) ensureContext() error {
	if m.malgoCtx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.malgoCtx = ctx
	return nil
}

// Devices lists capture devices
func (m *Malgo) Devices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureContext(); err != nil {
		return nil, err
	}

	raw, err := m.malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	m.devices = raw

	infos := make([]DeviceInfo, 0, len(raw))
	for i, d := range raw {
		infos = append(infos, m.describe(i, d))
	}
	return infos, nil
}

// describe converts a malgo device into DeviceInfo (must hold m.mu)
func (m *Malgo) describe(index int, d malgo.DeviceInfo) DeviceInfo {
	info := DeviceInfo{
		Index:     index,
		Name:      d.Name(),
		IsDefault: d.IsDefault != 0,
	}

	full, err := m.malgoCtx.DeviceInfo(malgo.Capture, d.ID, malgo.Shared)
	if err != nil || full.FormatCount == 0 {
		// Backend reports no native formats; miniaudio converts for us
		info.InputChannels = 1
		info.PreferredSampleRate = 48000
		return info
	}

	for i := 0; i < int(full.FormatCount) && i < len(full.Formats); i++ {
		f := full.Formats[i]
		if int(f.Channels) > info.InputChannels {
			info.InputChannels = int(f.Channels)
		}
		if info.PreferredSampleRate == 0 && f.SampleRate > 0 {
			info.PreferredSampleRate = int(f.SampleRate)
		}
	}
	if info.PreferredSampleRate == 0 {
		info.PreferredSampleRate = 48000
	}
	return info
}

// DefaultDevice returns the device flagged as default, or the first one
func (m *Malgo) DefaultDevice() (DeviceInfo, error) {
	devices, err := m.Devices()
	if err != nil {
		return DeviceInfo{}, err
	}
	if len(devices) == 0 {
		return DeviceInfo{}, ErrNoDevices
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	return devices[0], nil
}

// OpenStream initializes a capture device
func (m *Malgo) OpenStream(params StreamParams, onCapture CaptureFunc) error {
	var info DeviceInfo
	var err error
	if params.DeviceIndex == DefaultDeviceIndex {
		info, err = m.DefaultDevice()
	} else {
		var devices []DeviceInfo
		devices, err = m.Devices()
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return ErrStreamAlreadyOpen
	}

	params = resolve(params, info)
	channels := params.Channels
	sampleRate := params.SampleRate

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(params.FramesPerBuffer)
	deviceConfig.Alsa.NoMMap = 1
	if info.Index >= 0 && info.Index < len(m.devices) {
		deviceConfig.Capture.DeviceID = m.devices[info.Index].ID.Pointer()
	}

	m.samples = make([]float32, params.FramesPerBuffer*channels)

	onData := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if n*4 > len(pInputSamples) {
			n = len(pInputSamples) / 4
		}
		if cap(m.samples) < n {
			m.samples = make([]float32, n)
		}
		buf := m.samples[:n]
		for i := range buf {
			buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(pInputSamples[i*4:]))
		}
		onCapture(buf, n/channels, channels, sampleRate)
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device %q: %w", info.Name, err)
	}

	m.device = device
	log.Printf("Capture device opened: %s (%dHz, %d channels, %d frames/buffer)",
		info.Name, sampleRate, channels, params.FramesPerBuffer)
	return nil
}

// StartStream starts the device
func (m *Malgo) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return ErrStreamNotOpen
	}
	if m.device.IsStarted() {
		return nil
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// StopStream stops the device
func (m *Malgo) StopStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return ErrStreamNotOpen
	}
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// AbortStream stops and releases the device immediately
func (m *Malgo) AbortStream() error {
	return m.CloseStream()
}

// CloseStream releases the device and the context
func (m *Malgo) CloseStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Printf("Warning: capture device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
		m.devices = nil
	}
	return nil
}

// IsStreamOpen reports whether a device is initialized
func (m *Malgo) IsStreamOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device != nil
}
