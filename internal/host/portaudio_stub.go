//go:build !portaudio

// ABOUTME: PortAudio render pipeline stub
// ABOUTME: Fails to start when built without the portaudio tag
package host

import (
	"errors"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
)

var errPortAudioDisabled = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio output implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a PortAudio pipeline
func NewPortAudio(format audio.Format) *PortAudio {
	return &PortAudio{}
}

// Start always fails without PortAudio support
func (p *PortAudio) Start(g audio.Generator) error { return errPortAudioDisabled }

// Stop ends generation for g
func (p *PortAudio) Stop(g audio.Generator) { g.OnEndGenerate() }

// Close releases nothing
func (p *PortAudio) Close() error { return nil }
