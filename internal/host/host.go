// ABOUTME: Render pipeline selection
// ABOUTME: Builds the playback or headless pipeline named in configuration
package host

import (
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
)

// Pipeline pulls audio from generators until stopped
type Pipeline interface {
	Start(g audio.Generator) error
	Stop(g audio.Generator)
	Close() error
}

// New returns the pipeline for kind: "oto", "malgo", "portaudio" or "none"
func New(kind string, format audio.Format, recorder io.Writer) (Pipeline, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid output format: %dHz, %d channels", format.SampleRate, format.Channels)
	}

	switch kind {
	case "oto", "":
		return NewOto(format, 50*time.Millisecond), nil
	case "malgo":
		return NewMalgo(format), nil
	case "portaudio":
		return NewPortAudio(format), nil
	case "none":
		return NewClock(format, DefaultClockPeriod, recorder), nil
	default:
		return nil, fmt.Errorf("unknown output %q", kind)
	}
}
