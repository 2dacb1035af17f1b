//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package input

import (
	"errors"
)

var errPortAudioDisabled = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio capture implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio capture backend
func NewPortAudio() Capture {
	return &PortAudio{}
}

func (p *PortAudio) Devices() ([]DeviceInfo, error)     { return nil, errPortAudioDisabled }
func (p *PortAudio) DefaultDevice() (DeviceInfo, error) { return DeviceInfo{}, errPortAudioDisabled }
func (p *PortAudio) StartStream() error                 { return errPortAudioDisabled }
func (p *PortAudio) StopStream() error                  { return errPortAudioDisabled }
func (p *PortAudio) AbortStream() error                 { return nil }
func (p *PortAudio) CloseStream() error                 { return nil }
func (p *PortAudio) IsStreamOpen() bool                 { return false }

// OpenStream always fails without the portaudio build tag
func (p *PortAudio) OpenStream(params StreamParams, onCapture CaptureFunc) error {
	return errPortAudioDisabled
}
