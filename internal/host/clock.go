// ABOUTME: Headless render pipeline driven by a ticker
// ABOUTME: Mixes running generators in real time and optionally records the mix
package host

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
)

// DefaultClockPeriod is the render block duration of a Clock
const DefaultClockPeriod = 10 * time.Millisecond

// Clock pulls every started generator once per period without an output
// device. The mix is written to the recorder as little-endian float32.
type Clock struct {
	format audio.Format
	period time.Duration
	frames int

	mu        sync.Mutex
	renderers map[audio.Generator]*Renderer
	volume    int
	muted     bool
	recorder  io.Writer
	mix       []float32
	block     []float32
	raw       []byte

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	rendered atomic.Uint64
}

// NewClock creates a clock pipeline. recorder may be nil.
func NewClock(format audio.Format, period time.Duration, recorder io.Writer) *Clock {
	if period <= 0 {
		period = DefaultClockPeriod
	}
	frames := int(int64(format.SampleRate) * int64(period) / int64(time.Second))
	if frames < 1 {
		frames = 1
	}

	return &Clock{
		format:    format,
		period:    period,
		frames:    frames,
		renderers: make(map[audio.Generator]*Renderer),
		volume:    100,
		recorder:  recorder,
		mix:       make([]float32, frames*format.Channels),
		block:     make([]float32, frames*format.Channels),
		raw:       make([]byte, frames*format.Channels*4),
	}
}

// Start begins pulling from g and starts the clock if needed
func (c *Clock) Start(g audio.Generator) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.renderers[g]; ok {
		return nil
	}

	renderer := NewRenderer(g, c.format.SampleRate, c.format.Channels)
	renderer.SetVolume(c.volume)
	renderer.SetMuted(c.muted)
	g.OnBeginGenerate()
	c.renderers[g] = renderer

	if !c.running {
		c.running = true
		c.stopChan = make(chan struct{})
		c.wg.Add(1)
		go c.run(c.stopChan)
	}
	return nil
}

// Stop ends pulling from g
func (c *Clock) Stop(g audio.Generator) {
	c.mu.Lock()
	delete(c.renderers, g)
	c.mu.Unlock()

	g.OnEndGenerate()
}

func (c *Clock) run(stopChan chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick renders one period from every running generator
func (c *Clock) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.mix)
	for _, r := range c.renderers {
		r.Fill(c.block)
		for i, s := range c.block {
			c.mix[i] += s
		}
	}
	c.rendered.Add(uint64(c.frames))

	if c.recorder == nil {
		return
	}
	audio.PutFloat32s(c.raw, c.mix)
	if _, err := c.recorder.Write(c.raw); err != nil {
		log.Printf("Recording stopped: %v", err)
		c.recorder = nil
	}
}

// SetVolume sets the volume (0-100) applied to every generator in the mix
func (c *Clock) SetVolume(volume int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = volume
	for _, r := range c.renderers {
		r.SetVolume(volume)
	}
}

// SetMuted mutes or unmutes the mix
func (c *Clock) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = muted
	for _, r := range c.renderers {
		r.SetMuted(muted)
	}
}

// FramesRendered returns how many frames the clock has produced
func (c *Clock) FramesRendered() uint64 {
	return c.rendered.Load()
}

// Close stops the clock and every generator
func (c *Clock) Close() error {
	c.mu.Lock()
	running := c.running
	c.running = false
	if running {
		close(c.stopChan)
	}
	c.mu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	gens := make([]audio.Generator, 0, len(c.renderers))
	for g := range c.renderers {
		gens = append(gens, g)
	}
	c.mu.Unlock()

	for _, g := range gens {
		c.Stop(g)
	}
	return nil
}
