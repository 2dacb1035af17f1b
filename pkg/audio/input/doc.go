// ABOUTME: Audio capture package for reading microphones and synthetic sources
// ABOUTME: Provides the Capture interface and malgo, PortAudio, file and tone backends
// Package input provides capture devices that push float32 blocks to a
// callback from a device-owned goroutine.
//
// Backends:
//   - Malgo: miniaudio capture, the default
//   - PortAudio: requires building with -tags portaudio
//   - File: plays an MP3 file in real time as if it were a microphone
//   - Tone: a sine generator for tests and demos
//
// Example:
//
//	dev := input.NewMalgo()
//	err := dev.OpenStream(input.StreamParams{DeviceIndex: input.DefaultDeviceIndex}, onBlock)
//	err = dev.StartStream()
package input
