// ABOUTME: Capture device interface definition
// ABOUTME: Common interface for microphone and synthetic capture backends
package input

import (
	"errors"
	"strings"
)

// DefaultDeviceIndex asks a backend to open its platform default device
const DefaultDeviceIndex = -1

var (
	// ErrStreamNotOpen is returned when starting or stopping a closed stream
	ErrStreamNotOpen = errors.New("capture stream not open")

	// ErrStreamAlreadyOpen is returned when opening a second stream
	ErrStreamAlreadyOpen = errors.New("capture stream already open")

	// ErrNoDevices is returned when the backend reports no capture devices
	ErrNoDevices = errors.New("no capture devices available")
)

// DeviceInfo describes one capture device
type DeviceInfo struct {
	Index               int
	Name                string
	InputChannels       int
	PreferredSampleRate int
	IsDefault           bool
}

// StreamParams configures an opened capture stream
type StreamParams struct {
	// DeviceIndex selects a device from Devices(), DefaultDeviceIndex for the default
	DeviceIndex int

	// FramesPerBuffer is the callback block size in frames
	FramesPerBuffer int

	// SampleRate of 0 uses the device's preferred rate
	SampleRate int

	// Channels of 0 uses the device's channel count
	Channels int
}

// CaptureFunc receives one block of interleaved float32 samples. It runs on
// a backend-owned goroutine and must not retain samples after returning.
type CaptureFunc func(samples []float32, frames, channels, sampleRate int)

// Capture is a physical or synthetic capture device
type Capture interface {
	// Devices lists the available capture devices
	Devices() ([]DeviceInfo, error)

	// DefaultDevice returns the platform default capture device
	DefaultDevice() (DeviceInfo, error)

	// OpenStream opens a stream that delivers blocks to onCapture once started
	OpenStream(params StreamParams, onCapture CaptureFunc) error

	// StartStream begins delivering blocks
	StartStream() error

	// StopStream stops delivering blocks and drains pending ones
	StopStream() error

	// AbortStream stops immediately without draining
	AbortStream() error

	// CloseStream releases the stream
	CloseStream() error

	// IsStreamOpen reports whether a stream is open
	IsStreamOpen() bool
}

// FindByPrefix returns the first device whose name starts with prefix
func FindByPrefix(devices []DeviceInfo, prefix string) (DeviceInfo, bool) {
	for _, d := range devices {
		if strings.HasPrefix(d.Name, prefix) {
			return d, true
		}
	}
	return DeviceInfo{}, false
}

// resolve fills zero-valued stream parameters from the device
func resolve(params StreamParams, info DeviceInfo) StreamParams {
	if params.SampleRate <= 0 {
		params.SampleRate = info.PreferredSampleRate
	}
	if params.Channels <= 0 {
		params.Channels = info.InputChannels
	}
	if params.FramesPerBuffer <= 0 {
		params.FramesPerBuffer = 1024
	}
	return params
}
