// ABOUTME: Render pipeline package
// ABOUTME: Output device and headless pipelines pulling from capture components
// Package host provides the render pipelines that pull audio from capture
// components.
//
// A pipeline calls OnBeginGenerate once, pulls with OnGenerateAudio from its
// own goroutine and calls OnEndGenerate after the last pull. Oto and Malgo
// play to an output device; Clock renders headless and can record the mix.
// Streams whose rate or channel count differ from the pipeline format are
// converted by a Renderer.
package host
