// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, buffer limits and the Generator render contract
// Package audio provides the fundamental types shared by capture, network
// distribution and playback.
//
// All audio in this module is interleaved 32-bit float PCM:
//   - Format: sample rate and channel count of a stream
//   - Generator: the pull interface a host render pipeline drives
//
// HardCap bounds every buffer in the system. Producers that would exceed it
// drop data instead of growing memory.
package audio
