// ABOUTME: Package documentation for sample-rate conversion
// ABOUTME: Describes the write/read converter used by the render path
// Package resample converts interleaved float32 audio between sample rates.
//
// A Converter accepts source chunks of any size through Write and hands
// back converted samples through Read. Renderers in the host pipeline keep
// one per stream whose rate differs from the output device:
//
//	c := resample.New(44100, 48000, 2)
//	c.Write(chunk)
//	n := c.Read(out)
package resample
