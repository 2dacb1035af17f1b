//go:build portaudio

// ABOUTME: PortAudio render pipeline
// ABOUTME: Opens one default output stream per generator and fills it from the stream callback
package host

import (
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudio renders each generator through its own output stream
type PortAudio struct {
	format audio.Format

	mu      sync.Mutex
	streams map[audio.Generator]*portaudio.Stream
}

// NewPortAudio creates a PortAudio pipeline
func NewPortAudio(format audio.Format) *PortAudio {
	return &PortAudio{
		format:  format,
		streams: make(map[audio.Generator]*portaudio.Stream),
	}
}

// Start opens an output stream that pulls from g
func (p *PortAudio) Start(g audio.Generator) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.streams[g]; ok {
		return nil
	}

	// Initialize is reference counted; each stream holds one reference
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	renderer := NewRenderer(g, p.format.SampleRate, p.format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, p.format.Channels, float64(p.format.SampleRate), 0, func(out []float32) {
		renderer.Fill(out)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open output stream: %w", err)
	}

	g.OnBeginGenerate()

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		g.OnEndGenerate()
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	p.streams[g] = stream
	log.Printf("PortAudio output started: %dHz, %d channels", p.format.SampleRate, p.format.Channels)
	return nil
}

// Stop closes g's output stream
func (p *PortAudio) Stop(g audio.Generator) {
	p.mu.Lock()
	stream, ok := p.streams[g]
	delete(p.streams, g)
	p.mu.Unlock()

	if ok {
		if err := stream.Stop(); err != nil {
			log.Printf("Warning: output stream stop error: %v", err)
		}
		if err := stream.Close(); err != nil {
			log.Printf("Warning: output stream close error: %v", err)
		}
		portaudio.Terminate()
	}
	g.OnEndGenerate()
}

// Close stops every stream
func (p *PortAudio) Close() error {
	p.mu.Lock()
	gens := make([]audio.Generator, 0, len(p.streams))
	for g := range p.streams {
		gens = append(gens, g)
	}
	p.mu.Unlock()

	for _, g := range gens {
		p.Stop(g)
	}
	return nil
}
