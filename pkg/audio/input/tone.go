// ABOUTME: Test tone capture device
// ABOUTME: Generates a sine wave as if it were captured from a microphone
package input

import (
	"math"
	"sync"
)

// Tone is a synthetic capture device producing a sine wave
type Tone struct {
	clocked

	frequency  float64
	sampleRate int
	channels   int

	sampleMu    sync.Mutex
	sampleIndex uint64
}

// NewTone creates a tone device. A frequency of 0 uses 440Hz.
func NewTone(sampleRate, channels int, frequency float64) *Tone {
	if sampleRate == 0 {
		sampleRate = 48000
	}
	if channels == 0 {
		channels = 1
	}
	if frequency == 0 {
		frequency = 440.0 // A4 note
	}
	return &Tone{
		frequency:  frequency,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (t *Tone) info() DeviceInfo {
	return DeviceInfo{
		Index:               0,
		Name:                "Test Tone",
		InputChannels:       t.channels,
		PreferredSampleRate: t.sampleRate,
		IsDefault:           true,
	}
}

// Devices returns the single tone device
func (t *Tone) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{t.info()}, nil
}

// DefaultDevice returns the tone device
func (t *Tone) DefaultDevice() (DeviceInfo, error) {
	return t.info(), nil
}

// OpenStream prepares the generator
func (t *Tone) OpenStream(params StreamParams, onCapture CaptureFunc) error {
	return t.openClocked(resolve(params, t.info()), onCapture)
}

// StartStream begins delivering blocks in real time
func (t *Tone) StartStream() error {
	return t.startClocked(t.Read)
}

// StopStream stops delivering blocks
func (t *Tone) StopStream() error {
	return t.stopClocked()
}

// AbortStream stops and closes the stream
func (t *Tone) AbortStream() error {
	t.closeClocked()
	return nil
}

// CloseStream stops and closes the stream
func (t *Tone) CloseStream() error {
	t.closeClocked()
	return nil
}

// Read fills samples with the next frames of the tone, duplicated across
// the opened channel count
func (t *Tone) Read(samples []float32) {
	t.sampleMu.Lock()
	defer t.sampleMu.Unlock()

	channels := t.params.Channels
	if channels <= 0 {
		channels = t.channels
	}
	rate := t.params.SampleRate
	if rate <= 0 {
		rate = t.sampleRate
	}

	numFrames := len(samples) / channels
	for i := 0; i < numFrames; i++ {
		tm := float64(t.sampleIndex+uint64(i)) / float64(rate)
		// 50% volume to avoid clipping
		value := float32(math.Sin(2*math.Pi*t.frequency*tm) * 0.5)
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = value
		}
	}

	t.sampleIndex += uint64(numFrames)
}
