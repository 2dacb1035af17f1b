// ABOUTME: Pull-based renderer over a capture generator
// ABOUTME: Converts generator output to the pipeline format with software volume control
package host

import (
	"io"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/resample"
)

// maxPullsPerFill bounds generator calls for one output block
const maxPullsPerFill = 64

// Renderer pulls from a generator in its own format and produces
// interleaved float32 at the pipeline's rate and channel count
type Renderer struct {
	gen audio.Generator

	inRate      int
	inChannels  int
	outRate     int
	outChannels int

	converter *resample.Converter
	pull      []float32
	remixed   []float32
	out       []float32

	volume atomic.Int32
	muted  atomic.Bool
}

// NewRenderer queries the generator's format once
func NewRenderer(gen audio.Generator, outRate, outChannels int) *Renderer {
	inRate := gen.Init()
	if inRate <= 0 {
		inRate = audio.DefaultSampleRate
	}
	inChannels := gen.NumChannels()
	if inChannels <= 0 {
		inChannels = 1
	}

	r := &Renderer{
		gen:         gen,
		inRate:      inRate,
		inChannels:  inChannels,
		outRate:     outRate,
		outChannels: outChannels,
	}
	if inRate != outRate {
		r.converter = resample.New(inRate, outRate, outChannels)
	}
	r.volume.Store(100)
	return r
}

// SetVolume sets the volume (0-100)
func (r *Renderer) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	r.volume.Store(int32(volume))
}

// SetMuted sets mute state
func (r *Renderer) SetMuted(muted bool) {
	r.muted.Store(muted)
}

// Fill writes exactly len(out) samples in the output format. Whatever the
// generator does not supply is silence.
func (r *Renderer) Fill(out []float32) {
	if r.converter == nil {
		r.pullRemixed(len(out) / r.outChannels)
		n := copy(out, r.remixed)
		clear(out[n:])
	} else {
		r.fillResampled(out)
	}
	r.applyVolume(out)
}

// pullRemixed pulls frames from the generator into r.remixed at the
// output channel count
func (r *Renderer) pullRemixed(frames int) {
	r.pull = grow(r.pull, frames*r.inChannels)
	clear(r.pull)
	r.gen.OnGenerateAudio(r.pull)

	r.remixed = grow(r.remixed, frames*r.outChannels)
	audio.Remix(r.remixed, r.pull, r.inChannels, r.outChannels)
}

func (r *Renderer) fillResampled(out []float32) {
	for i := 0; r.converter.Buffered() < len(out) && i < maxPullsPerFill; i++ {
		missing := (len(out) - r.converter.Buffered()) / r.outChannels
		r.pullRemixed(r.converter.InputFrames(missing))
		r.converter.Write(r.remixed)
	}

	n := r.converter.Read(out)
	clear(out[n:])
}

func (r *Renderer) applyVolume(out []float32) {
	if r.muted.Load() {
		clear(out)
		return
	}
	volume := r.volume.Load()
	if volume == 100 {
		return
	}
	gain := float32(volume) / 100
	for i := range out {
		out[i] *= gain
	}
}

// Read renders whole frames as little-endian float32
func (r *Renderer) Read(p []byte) (int, error) {
	frames := len(p) / (4 * r.outChannels)
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}

	r.out = grow(r.out, frames*r.outChannels)
	r.Fill(r.out)
	return audio.PutFloat32s(p, r.out), nil
}

// grow returns buf resized to n, reallocating only when it is too small
func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
