// ABOUTME: Real-time clock driver shared by synthetic capture backends
// ABOUTME: Delivers fixed-size blocks to the capture callback from a ticker goroutine
package input

import (
	"sync"
	"time"
)

// clocked paces a fill function at the stream's real-time rate so synthetic
// sources behave like a hardware device: fixed block size, own goroutine.
type clocked struct {
	mu        sync.Mutex
	open      bool
	running   bool
	params    StreamParams
	onCapture CaptureFunc
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func (c *clocked) openClocked(params StreamParams, onCapture CaptureFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return ErrStreamAlreadyOpen
	}
	c.params = params
	c.onCapture = onCapture
	c.open = true
	return nil
}

func (c *clocked) startClocked(fill func(buf []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrStreamNotOpen
	}
	if c.running {
		return nil
	}

	params := c.params
	onCapture := c.onCapture
	stopChan := make(chan struct{})
	c.stopChan = stopChan
	c.running = true

	period := time.Duration(params.FramesPerBuffer) * time.Second / time.Duration(params.SampleRate)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		buf := make([]float32, params.FramesPerBuffer*params.Channels)
		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				fill(buf)
				onCapture(buf, params.FramesPerBuffer, params.Channels, params.SampleRate)
			}
		}
	}()
	return nil
}

func (c *clocked) stopClocked() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrStreamNotOpen
	}
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopChan)
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *clocked) closeClocked() {
	_ = c.stopClocked()

	c.mu.Lock()
	c.open = false
	c.onCapture = nil
	c.mu.Unlock()
}

func (c *clocked) IsStreamOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
