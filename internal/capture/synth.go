// ABOUTME: Thread-safe adapter around a capture device
// ABOUTME: Owns device selection, stream control and the lock-protected accumulation buffer
package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/input"
)

var (
	// ErrNoDevice is returned when no capture device is configured or found
	ErrNoDevice = errors.New("no capture device")

	// ErrInvalidChannelCount is returned when a device reports 0 or more
	// than audio.MaxChannels channels
	ErrInvalidChannelCount = errors.New("invalid channel count")
)

// dropLogInterval limits overflow diagnostics to the first drop and every
// Nth one after it
const dropLogInterval = 100

// SinkFunc receives captured blocks while the synth is capturing
type SinkFunc func(samples []float32, frames, channels, sampleRate int)

// SynthStats is a snapshot of the synth's buffer counters
type SynthStats struct {
	Enqueued int
	Accepted uint64
	Dropped  uint64
}

// Synth wraps one capture device. Captured blocks are pushed to a sink
// while capturing; the accumulation buffer is fed through AddAudioData.
type Synth struct {
	device input.Capture
	sink   SinkFunc

	mu              sync.Mutex
	buffer          []float32
	capturing       atomic.Bool
	networkOverride atomic.Bool
	enqueued        atomic.Int64

	accepted   atomic.Uint64
	dropped    atomic.Uint64
	dropEvents atomic.Uint64
}

// NewSynth creates a synth for device. device may be nil for receive-only
// instances that are only ever fed from the network.
func NewSynth(device input.Capture, sink SinkFunc) *Synth {
	return &Synth{
		device: device,
		sink:   sink,
		buffer: make([]float32, 0, 2*2*audio.DefaultSampleRate),
	}
}

// SelectDevice returns the first device whose name starts with nameFilter,
// or the platform default device with input.DefaultDeviceIndex when nothing
// matches. An empty filter selects the default device.
func (s *Synth) SelectDevice(nameFilter string) (input.DeviceInfo, int, error) {
	if s.device == nil {
		return input.DeviceInfo{}, input.DefaultDeviceIndex, ErrNoDevice
	}

	if nameFilter != "" {
		devices, err := s.device.Devices()
		if err != nil {
			log.Printf("Failed to list capture devices: %v", err)
		}
		for _, d := range devices {
			log.Printf("Capture device %d: %s (%d channels, %dHz)", d.Index, d.Name, d.InputChannels, d.PreferredSampleRate)
		}
		if d, ok := input.FindByPrefix(devices, nameFilter); ok {
			return d, d.Index, validateChannels(d)
		}
		log.Printf("No capture device matches %q, using default", nameFilter)
	}

	info, err := s.device.DefaultDevice()
	if err != nil {
		return input.DeviceInfo{}, input.DefaultDeviceIndex, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return info, input.DefaultDeviceIndex, validateChannels(info)
}

func validateChannels(info input.DeviceInfo) error {
	if info.InputChannels <= 0 || info.InputChannels > audio.MaxChannels {
		return fmt.Errorf("%w: %s reports %d", ErrInvalidChannelCount, info.Name, info.InputChannels)
	}
	return nil
}

// Open opens and starts the device stream. It is a no-op when the device
// stream is already open.
func (s *Synth) Open(deviceIndex, framesPerBuffer int) error {
	if s.device == nil {
		return ErrNoDevice
	}
	if s.device.IsStreamOpen() {
		return nil
	}

	if framesPerBuffer <= 0 {
		framesPerBuffer = audio.DefaultFramesPerBuffer
	}

	params := input.StreamParams{
		DeviceIndex:     deviceIndex,
		FramesPerBuffer: framesPerBuffer,
	}
	if err := s.device.OpenStream(params, s.onCapture); err != nil {
		return fmt.Errorf("failed to open capture stream: %w", err)
	}

	// Start the device here so the render path never waits on it
	if err := s.device.StartStream(); err != nil {
		s.device.CloseStream()
		return fmt.Errorf("failed to start capture stream: %w", err)
	}
	return nil
}

// onCapture runs on the device goroutine. The sink is called under the
// lock, so once Stop or Abort returns no block is being forwarded.
func (s *Synth) onCapture(samples []float32, frames, channels, sampleRate int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing.Load() && s.sink != nil {
		s.sink(samples, frames, channels, sampleRate)
	}
}

// Start enables capturing. Locally captured audio left over from a
// previous run is discarded; network-fed audio is kept since it may arrive
// before the stream is started.
func (s *Synth) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.networkOverride.Load() {
		s.buffer = s.buffer[:0]
		s.enqueued.Store(0)
	}
	s.capturing.Store(true)
}

// Stop disables capturing without closing the device stream
func (s *Synth) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing.Store(false)
}

// Abort closes the device stream immediately and leaves network mode
func (s *Synth) Abort() error {
	s.LeaveNetwork()

	if s.device == nil || !s.device.IsStreamOpen() {
		return nil
	}

	abortErr := s.device.AbortStream()
	if err := s.device.CloseStream(); err != nil {
		return fmt.Errorf("failed to close capture stream: %w", err)
	}
	if abortErr != nil {
		return fmt.Errorf("failed to abort capture stream: %w", abortErr)
	}
	return nil
}

// InitNetwork switches to receive-only mode without opening a device
func (s *Synth) InitNetwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing.Store(true)
	s.networkOverride.Store(true)
}

// LeaveNetwork stops capturing, drops network mode and discards any
// accumulated audio
func (s *Synth) LeaveNetwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing.Store(false)
	s.networkOverride.Store(false)
	s.buffer = s.buffer[:0]
	s.enqueued.Store(0)
}

// IsStreamOpen reports whether the device stream is open or the synth is
// in network mode
func (s *Synth) IsStreamOpen() bool {
	if s.networkOverride.Load() {
		return true
	}
	return s.device != nil && s.device.IsStreamOpen()
}

// IsCapturing reports whether captured blocks are currently forwarded
func (s *Synth) IsCapturing() bool {
	return s.capturing.Load()
}

// IsNetwork reports whether the synth is in network mode
func (s *Synth) IsNetwork() bool {
	return s.networkOverride.Load()
}

// AddAudioData appends samples to the accumulation buffer. Samples that
// would push the buffer past audio.HardCap are dropped and false is returned.
func (s *Synth) AddAudioData(samples []float32) bool {
	s.mu.Lock()
	size := len(s.buffer) + len(samples)
	if size > audio.HardCap {
		s.mu.Unlock()

		s.dropped.Add(uint64(len(samples)))
		if n := s.dropEvents.Add(1); n == 1 || n%dropLogInterval == 0 {
			log.Printf("Accumulation buffer full, dropped %d samples (would hold %d, drop #%d)", len(samples), size, n)
		}
		return false
	}
	s.buffer = append(s.buffer, samples...)
	s.enqueued.Store(int64(len(s.buffer)))
	s.mu.Unlock()

	s.accepted.Add(uint64(len(samples)))
	return true
}

// GetAudioData swaps the accumulation buffer with dst and returns the
// accumulated samples. It never waits for the lock: when the buffer is busy
// or empty it returns dst unchanged and false. The caller must not use dst
// again after a successful swap.
func (s *Synth) GetAudioData(dst []float32) ([]float32, bool) {
	if !s.mu.TryLock() {
		return dst, false
	}
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return dst, false
	}

	out := s.buffer
	s.buffer = dst[:0]
	s.enqueued.Store(0)
	return out, true
}

// NumSamplesEnqueued returns the accumulation buffer size as of the last
// locked update
func (s *Synth) NumSamplesEnqueued() int {
	return int(s.enqueued.Load())
}

// Stats returns buffer counters
func (s *Synth) Stats() SynthStats {
	return SynthStats{
		Enqueued: s.NumSamplesEnqueued(),
		Accepted: s.accepted.Load(),
		Dropped:  s.dropped.Load(),
	}
}
