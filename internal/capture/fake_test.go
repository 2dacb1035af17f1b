// ABOUTME: Test doubles for the capture package
// ABOUTME: Fake capture device, sender and pipeline
package capture

import (
	"errors"
	"sync"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/input"
)

type fakeDevice struct {
	mu        sync.Mutex
	devices   []input.DeviceInfo
	def       input.DeviceInfo
	openErr   error
	open      bool
	started   bool
	aborted   bool
	params    input.StreamParams
	onCapture input.CaptureFunc
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		devices: []input.DeviceInfo{
			{Index: 0, Name: "Built-in Microphone", InputChannels: 1, PreferredSampleRate: 48000, IsDefault: true},
			{Index: 1, Name: "USB Headset", InputChannels: 2, PreferredSampleRate: 44100},
			{Index: 2, Name: "Broken Array", InputChannels: 16, PreferredSampleRate: 48000},
		},
		def: input.DeviceInfo{Index: 0, Name: "Built-in Microphone", InputChannels: 1, PreferredSampleRate: 48000, IsDefault: true},
	}
}

func (d *fakeDevice) Devices() ([]input.DeviceInfo, error) { return d.devices, nil }

func (d *fakeDevice) DefaultDevice() (input.DeviceInfo, error) { return d.def, nil }

func (d *fakeDevice) OpenStream(params input.StreamParams, onCapture input.CaptureFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	if d.open {
		return input.ErrStreamAlreadyOpen
	}
	d.open = true
	d.params = params
	d.onCapture = onCapture
	return nil
}

func (d *fakeDevice) StartStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *fakeDevice) StopStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *fakeDevice) AbortStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = true
	d.started = false
	return nil
}

func (d *fakeDevice) CloseStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.onCapture = nil
	return nil
}

func (d *fakeDevice) IsStreamOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// deliver simulates the device callback
func (d *fakeDevice) deliver(samples []float32, channels, sampleRate int) {
	d.mu.Lock()
	cb := d.onCapture
	d.mu.Unlock()
	if cb != nil {
		cb(samples, len(samples)/channels, channels, sampleRate)
	}
}

type sentBlock struct {
	name       string
	sampleRate int
	channels   int
	samples    []float32
}

type fakeSender struct {
	mu     sync.Mutex
	blocks []sentBlock
	err    error
}

func (s *fakeSender) SendNetworkAudio(name string, sampleRate, channels int, samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.blocks = append(s.blocks, sentBlock{name, sampleRate, channels, append([]float32(nil), samples...)})
	return nil
}

type fakePipeline struct {
	started int
	stopped int
	err     error
}

func (p *fakePipeline) Start(g audio.Generator) error {
	if p.err != nil {
		return p.err
	}
	p.started++
	g.OnBeginGenerate()
	return nil
}

func (p *fakePipeline) Stop(g audio.Generator) {
	p.stopped++
	g.OnEndGenerate()
}

var errFakeOpen = errors.New("device busy")

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}
