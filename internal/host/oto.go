// ABOUTME: Oto-based render pipeline
// ABOUTME: Plays each started generator through its own oto player on a shared context
package host

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// oto only allows one context per process
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

func sharedOtoContext(format audio.Format, bufferSize time.Duration) (*oto.Context, audio.Format, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-readyChan

		otoCtx = ctx
		otoFormat = format
		log.Printf("Audio output initialized: %dHz, %d channels", format.SampleRate, format.Channels)
	})

	if otoErr == nil && otoFormat != format {
		log.Printf("Warning: oto context already running at %dHz %dch, ignoring requested %dHz %dch",
			otoFormat.SampleRate, otoFormat.Channels, format.SampleRate, format.Channels)
	}
	return otoCtx, otoFormat, otoErr
}

type otoStream struct {
	player   *oto.Player
	renderer *Renderer
}

// Oto renders generators to the default output device
type Oto struct {
	format     audio.Format
	bufferSize time.Duration

	mu      sync.Mutex
	streams map[audio.Generator]*otoStream
	volume  int
	muted   bool
}

// NewOto creates an oto pipeline. All streams are converted to format.
func NewOto(format audio.Format, bufferSize time.Duration) *Oto {
	return &Oto{
		format:     format,
		bufferSize: bufferSize,
		streams:    make(map[audio.Generator]*otoStream),
		volume:     100,
	}
}

// Start begins pulling from g. Starting a running generator is a no-op.
func (o *Oto) Start(g audio.Generator) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.streams[g]; ok {
		return nil
	}

	ctx, format, err := sharedOtoContext(o.format, o.bufferSize)
	if err != nil {
		return err
	}

	renderer := NewRenderer(g, format.SampleRate, format.Channels)
	renderer.SetVolume(o.volume)
	renderer.SetMuted(o.muted)

	g.OnBeginGenerate()

	player := ctx.NewPlayer(renderer)
	player.Play()

	o.streams[g] = &otoStream{player: player, renderer: renderer}
	return nil
}

// Stop ends pulling from g
func (o *Oto) Stop(g audio.Generator) {
	o.mu.Lock()
	stream, ok := o.streams[g]
	delete(o.streams, g)
	o.mu.Unlock()

	if ok {
		stream.player.Pause()
		if err := stream.player.Close(); err != nil {
			log.Printf("Warning: oto player close error: %v", err)
		}
	}
	g.OnEndGenerate()
}

// SetVolume sets the volume (0-100) of every stream
func (o *Oto) SetVolume(volume int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.volume = volume
	for _, s := range o.streams {
		s.renderer.SetVolume(volume)
	}
	log.Printf("Volume set to %d", volume)
}

// SetMuted sets mute state of every stream
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.muted = muted
	for _, s := range o.streams {
		s.renderer.SetMuted(muted)
	}
	log.Printf("Muted: %v", muted)
}

// Close stops every stream
func (o *Oto) Close() error {
	o.mu.Lock()
	gens := make([]audio.Generator, 0, len(o.streams))
	for g := range o.streams {
		gens = append(gens, g)
	}
	o.mu.Unlock()

	for _, g := range gens {
		o.Stop(g)
	}
	return nil
}
