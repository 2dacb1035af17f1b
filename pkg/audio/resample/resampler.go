// ABOUTME: Streaming linear-interpolation sample-rate converter
// ABOUTME: Queues converted interleaved float32 frames for the pull side to drain
package resample

// Converter changes the sample rate of an interleaved float32 stream.
// Written chunks are converted into an internal queue that Read drains,
// so producers and consumers can use different block sizes. One input
// frame is always held back so interpolation continues across chunks.
type Converter struct {
	from, to int
	channels int
	step     float64

	// phase is the read position in frames relative to hist
	phase  float64
	hist   []float32
	primed bool

	joined []float32
	queue  []float32
}

// New returns a converter from one rate to another for the given channel count
func New(from, to, channels int) *Converter {
	if channels < 1 {
		channels = 1
	}
	return &Converter{
		from:     from,
		to:       to,
		channels: channels,
		step:     float64(from) / float64(to),
		hist:     make([]float32, channels),
	}
}

// Rates returns the source and destination sample rates
func (c *Converter) Rates() (from, to int) { return c.from, c.to }

// Buffered returns the number of converted samples waiting to be read
func (c *Converter) Buffered() int { return len(c.queue) }

// Write converts src, which must hold whole frames, and queues the result
func (c *Converter) Write(src []float32) {
	frames := len(src) / c.channels
	if frames == 0 {
		return
	}
	src = src[:frames*c.channels]

	if c.primed {
		c.joined = append(append(c.joined[:0], c.hist...), src...)
		src = c.joined
		frames++
	}

	ch := c.channels
	for {
		i := int(c.phase)
		if i+1 >= frames {
			break
		}
		t := float32(c.phase - float64(i))
		a := src[i*ch : (i+1)*ch]
		b := src[(i+1)*ch : (i+2)*ch]
		for k := range a {
			c.queue = append(c.queue, a[k]+(b[k]-a[k])*t)
		}
		c.phase += c.step
	}

	last := frames - 1
	c.phase = max(c.phase-float64(last), 0)
	copy(c.hist, src[last*ch:])
	c.primed = true
}

// Read moves up to len(dst) converted samples into dst and returns the count
func (c *Converter) Read(dst []float32) int {
	n := copy(dst, c.queue)
	c.queue = c.queue[:copy(c.queue, c.queue[n:])]
	return n
}

// InputFrames estimates the source frames needed to yield outFrames
func (c *Converter) InputFrames(outFrames int) int {
	return int(float64(outFrames)*c.step) + 1
}

// Reset drops queued output and the held-back frame
func (c *Converter) Reset() {
	c.phase = 0
	c.primed = false
	clear(c.hist)
	c.queue = c.queue[:0]
}
