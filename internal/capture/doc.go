// ABOUTME: Capture stream package
// ABOUTME: Capture synth and per-stream component bridging capture to render
// Package capture implements named capture streams.
//
// A Synth adapts one capture device: it selects and opens the device,
// forwards captured blocks while capturing and owns the accumulation buffer
// that network-fed audio is appended to. A Component wraps a Synth and
// exposes both sides of a stream: OnData pushes captured blocks to the
// network, and OnGenerateAudio reslices accumulated audio into whatever
// block size the render pipeline requests.
//
// The accumulation buffer never grows past audio.HardCap samples. Writers
// that would exceed it have their data dropped, and the render path never
// waits for the buffer lock.
package capture
