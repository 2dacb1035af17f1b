// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, buffer limits and the render contract
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// HardCap is the maximum number of buffered samples (10 seconds of
	// mono or 5 seconds of stereo at 48kHz). Exceeding it drops data.
	HardCap = 2 * 5 * 48000

	// RampUpThreshold is the number of enqueued samples that must be
	// exceeded before a stream starts playing out.
	RampUpThreshold = 1024

	// MaxChannels is the largest channel count a capture device may report
	MaxChannels = 8

	DefaultSampleRate      = 48000
	DefaultChannels        = 2
	DefaultFramesPerBuffer = 1024
)

// Format describes an interleaved float32 PCM stream
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether the channel count is usable for capture
func (f Format) Valid() bool {
	return f.Channels > 0 && f.Channels <= MaxChannels && f.SampleRate > 0
}

// Generator is the pull contract of a host render pipeline. The host calls
// Init once, OnBeginGenerate when it starts pulling, OnGenerateAudio
// repeatedly from its render goroutine and OnEndGenerate when it stops.
// OnGenerateAudio must not block; it returns how many leading samples of
// out it wrote, the rest is treated as silence.
type Generator interface {
	Init() (sampleRate int)
	NumChannels() int
	OnBeginGenerate()
	OnGenerateAudio(out []float32) int
	OnEndGenerate()
}

// SampleFromInt16 converts a 16-bit PCM sample to float32 in [-1, 1)
func SampleFromInt16(sample int16) float32 {
	return float32(sample) / 32768.0
}

// PutFloat32s writes samples as little-endian float32 into dst and returns
// the number of bytes written. dst must hold 4*len(samples) bytes.
func PutFloat32s(dst []byte, samples []float32) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
	return len(samples) * 4
}

// AppendFloat32s decodes little-endian float32 bytes and appends them to dst
func AppendFloat32s(dst []float32, src []byte) []float32 {
	n := len(src) / 4
	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
	}
	return dst
}

// Remix converts interleaved samples between channel counts and returns the
// number of samples written to dst. Mono is duplicated to every output
// channel, anything folded down to mono is averaged and other layouts keep
// the leading channels.
func Remix(dst, src []float32, srcChannels, dstChannels int) int {
	if srcChannels <= 0 || dstChannels <= 0 {
		return 0
	}
	frames := len(src) / srcChannels
	if max := len(dst) / dstChannels; frames > max {
		frames = max
	}

	if srcChannels == dstChannels {
		return copy(dst, src[:frames*srcChannels])
	}

	for f := 0; f < frames; f++ {
		in := src[f*srcChannels : (f+1)*srcChannels]
		out := dst[f*dstChannels : (f+1)*dstChannels]
		switch {
		case srcChannels == 1:
			for ch := range out {
				out[ch] = in[0]
			}
		case dstChannels == 1:
			var sum float32
			for _, s := range in {
				sum += s
			}
			out[0] = sum / float32(srcChannels)
		default:
			for ch := range out {
				if ch < srcChannels {
					out[ch] = in[ch]
				} else {
					out[ch] = 0
				}
			}
		}
	}
	return frames * dstChannels
}
