// ABOUTME: Per-stream capture endpoint
// ABOUTME: Bridges push-based capture callbacks to the pull-based render contract
package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/input"
	"github.com/google/uuid"
)

var (
	// ErrStreamStillOpen is returned by FinishDestroy when the stream could
	// not be closed
	ErrStreamStillOpen = errors.New("capture stream still open")

	// ErrDestroying is returned when starting a component that is being destroyed
	ErrDestroying = errors.New("component is being destroyed")
)

// State is the lifecycle state of a component's stream
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateCapturing
	StateStopped
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sender broadcasts captured blocks
type Sender interface {
	SendNetworkAudio(streamName string, sampleRate, channels int, samples []float32) error
}

// Pipeline is the host render pipeline a component plays through. Start
// calls OnBeginGenerate before pulling and Stop calls OnEndGenerate after
// the last pull.
type Pipeline interface {
	Start(g audio.Generator) error
	Stop(g audio.Generator)
}

// Config holds component configuration
type Config struct {
	// StreamName is the network demultiplexing key
	StreamName string

	// DeviceInputName selects the capture device by name prefix
	DeviceInputName string

	// NetworkSampleRate is reported to the pipeline until a stream announces its own
	NetworkSampleRate int

	// FramesPerBuffer is the capture device block size
	FramesPerBuffer int
}

// Stats is a snapshot of a component's counters
type Stats struct {
	ID         string
	StreamName string
	State      State
	Destroying bool
	Network    bool
	Channels   int
	SampleRate int

	Rendered   uint64
	Silent     uint64
	Overflows  uint64
	Sent       uint64
	SendErrors uint64

	Synth SynthStats
}

// Component is one named capture stream. On a sender it pushes captured
// blocks to the network; on a receiver it renders network audio.
type Component struct {
	id       string
	config   Config
	synth    *Synth
	sender   Sender
	pipeline Pipeline

	// Render goroutine only
	ring      []float32
	readIndex int
	generated int64

	deviceIndex int

	lifecycleMu        sync.Mutex
	state              atomic.Int32
	streamOpen         atomic.Bool
	destroying         atomic.Bool
	notReadyForDestroy atomic.Bool
	numChannels        atomic.Int32
	sampleRate         atomic.Int32

	sendMu  sync.Mutex
	sendBuf []float32

	rendered   atomic.Uint64
	silent     atomic.Uint64
	overflows  atomic.Uint64
	sent       atomic.Uint64
	sendErrors atomic.Uint64
}

// NewComponent creates a component. device may be nil on receivers; sender
// and pipeline may be nil when the component only sends or only receives.
func NewComponent(config Config, device input.Capture, sender Sender, pipeline Pipeline) *Component {
	if config.NetworkSampleRate <= 0 {
		config.NetworkSampleRate = audio.DefaultSampleRate
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = audio.DefaultFramesPerBuffer
	}

	c := &Component{
		id:          uuid.New().String(),
		config:      config,
		sender:      sender,
		pipeline:    pipeline,
		ring:        make([]float32, 0, 2*2*audio.DefaultSampleRate),
		deviceIndex: input.DefaultDeviceIndex,
	}
	c.synth = NewSynth(device, c.OnData)
	c.numChannels.Store(1)
	c.sampleRate.Store(int32(config.NetworkSampleRate))
	return c
}

// ID returns the component's instance ID
func (c *Component) ID() string {
	return c.id
}

// StreamName returns the network demultiplexing key
func (c *Component) StreamName() string {
	return c.config.StreamName
}

// Synth returns the underlying capture synth
func (c *Component) Synth() *Synth {
	return c.synth
}

// State returns the current stream state
func (c *Component) State() State {
	return State(c.state.Load())
}

func (c *Component) setState(s State) {
	c.state.Store(int32(s))
}

// IsDestroying reports whether BeginDestroy has been called
func (c *Component) IsDestroying() bool {
	return c.destroying.Load()
}

// IsStreamOpen reports whether the component considers its stream open
func (c *Component) IsStreamOpen() bool {
	return c.streamOpen.Load()
}

// OpenStream selects and opens the local capture device and starts
// capturing. Used on the sending side.
func (c *Component) OpenStream() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	info, index, err := c.synth.SelectDevice(c.config.DeviceInputName)
	if err != nil {
		log.Printf("Stream %s: cannot use capture device: %v", c.config.StreamName, err)
		return err
	}
	if info.PreferredSampleRate <= 0 {
		log.Printf("Stream %s: capture device %s reports invalid sample rate %d",
			c.config.StreamName, info.Name, info.PreferredSampleRate)
	}

	c.deviceIndex = index
	c.numChannels.Store(int32(info.InputChannels))
	c.setState(StateOpening)

	if err := c.synth.Open(index, c.config.FramesPerBuffer); err != nil {
		log.Printf("Stream %s: %v", c.config.StreamName, err)
		c.setState(StateIdle)
		return err
	}
	c.streamOpen.Store(true)
	c.synth.Start()
	c.setState(StateCapturing)

	log.Printf("Stream %s: capturing from %s (%d channels, %dHz)",
		c.config.StreamName, info.Name, info.InputChannels, info.PreferredSampleRate)
	return nil
}

// Init reports the sample rate to the render pipeline
func (c *Component) Init() int {
	return int(c.sampleRate.Load())
}

// NumChannels reports the channel count to the render pipeline
func (c *Component) NumChannels() int {
	return int(c.numChannels.Load())
}

// OnBeginGenerate is called once before the pipeline starts pulling
func (c *Component) OnBeginGenerate() {
	c.ring = c.ring[:0]
	c.readIndex = 0
	c.generated = 0

	if !c.streamOpen.Load() {
		if err := c.synth.Open(c.deviceIndex, c.config.FramesPerBuffer); err != nil {
			log.Printf("Stream %s: %v, rendering silence", c.config.StreamName, err)
		} else {
			c.streamOpen.Store(true)
		}
	}

	if c.streamOpen.Load() {
		c.synth.Start()
		// Hold off destruction until the stream is closed again
		c.notReadyForDestroy.Store(true)
		c.setState(StateCapturing)
	}
}

// OnEndGenerate stops capturing and closes the component's stream. Safe to
// call repeatedly.
func (c *Component) OnEndGenerate() {
	if c.streamOpen.CompareAndSwap(true, false) {
		c.synth.Stop()
		c.notReadyForDestroy.Store(false)
		c.setState(StateStopped)
	}
}

// OnGenerateAudio fills out from the playback ring and returns the number
// of leading samples written. It never blocks; a return of len(out) with
// nothing written means silence.
func (c *Component) OnGenerateAudio(out []float32) int {
	n := len(out)

	if !c.streamOpen.Load() || !c.synth.IsStreamOpen() || !c.synth.IsCapturing() {
		c.silent.Add(uint64(n))
		return n
	}

	if n > audio.HardCap {
		log.Printf("Stream %s: render request of %d samples exceeds buffer limit", c.config.StreamName, n)
		c.silent.Add(uint64(n))
		return n
	}

	// Severe overflow: drop everything and recover next call
	if len(c.ring) > audio.HardCap {
		c.ring, _ = c.synth.GetAudioData(c.ring[:0])
		c.ring = c.ring[:0]
		c.readIndex = 0
		c.overflows.Add(1)
		c.silent.Add(uint64(n))
		return n
	}

	if c.generated == 0 && c.synth.NumSamplesEnqueued() <= audio.RampUpThreshold {
		c.silent.Add(uint64(n))
		return n
	}

	if c.readIndex > len(c.ring) {
		log.Printf("Stream %s: read index %d past end of playback ring (%d)", c.config.StreamName, c.readIndex, len(c.ring))
		c.ring = c.ring[:0]
		c.readIndex = 0
		c.silent.Add(uint64(n))
		return n
	}

	written := 0
	for written < n {
		if c.readIndex == len(c.ring) {
			next, ok := c.synth.GetAudioData(c.ring[:0])
			c.ring = next
			c.readIndex = 0
			if !ok {
				c.ring = c.ring[:0]
				break
			}
		}
		copied := copy(out[written:], c.ring[c.readIndex:])
		c.readIndex += copied
		written += copied
	}

	c.generated += int64(written)
	c.rendered.Add(uint64(written))
	return written
}

// OnData runs on the capture goroutine. Blocks within the buffer limit are
// forwarded to the sender under the component's stream name.
func (c *Component) OnData(samples []float32, frames, channels, sampleRate int) {
	count := frames * channels
	if count > len(samples) {
		count = len(samples)
	}
	if count > audio.HardCap {
		log.Printf("Stream %s: captured block of %d samples exceeds buffer limit", c.config.StreamName, count)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.sendBuf = append(c.sendBuf[:0], samples[:count]...)

	if c.sender == nil {
		return
	}
	if err := c.sender.SendNetworkAudio(c.config.StreamName, sampleRate, channels, c.sendBuf); err != nil {
		if n := c.sendErrors.Add(1); n == 1 || n%dropLogInterval == 0 {
			log.Printf("Stream %s: send failed (%d errors): %v", c.config.StreamName, n, err)
		}
		return
	}
	c.sent.Add(1)
}

// MarkStreamOpen flags the stream open ahead of InitNetwork. It returns
// false if the stream was already open or the component is being destroyed.
func (c *Component) MarkStreamOpen() bool {
	if c.destroying.Load() {
		return false
	}
	return c.streamOpen.CompareAndSwap(false, true)
}

// CancelStreamOpen reverts a MarkStreamOpen whose InitNetwork never ran
func (c *Component) CancelStreamOpen() {
	c.streamOpen.Store(false)
}

// InitNetwork adopts a received stream's format, switches the synth to
// network mode and starts rendering. Runs on the lifecycle executor.
func (c *Component) InitNetwork(channels, sampleRate int) error {
	if channels <= 0 || channels > audio.MaxChannels {
		c.CancelStreamOpen()
		return fmt.Errorf("%w: stream %s announced %d", ErrInvalidChannelCount, c.config.StreamName, channels)
	}

	c.numChannels.Store(int32(channels))
	c.sampleRate.Store(int32(sampleRate))
	c.synth.InitNetwork()

	log.Printf("Stream %s: receiving %d channels at %dHz", c.config.StreamName, channels, sampleRate)
	if err := c.Start(); err != nil {
		// Back to idle so the next datagram retries the init
		c.synth.LeaveNetwork()
		c.CancelStreamOpen()
		c.setState(StateIdle)
		return err
	}
	return nil
}

// AddAudioData appends received samples to the accumulation buffer
func (c *Component) AddAudioData(samples []float32) bool {
	return c.synth.AddAudioData(samples)
}

// Start begins rendering through the pipeline. Without a pipeline it only
// opens the stream.
func (c *Component) Start() error {
	if c.destroying.Load() {
		return ErrDestroying
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.pipeline == nil {
		c.OnBeginGenerate()
		return nil
	}
	if err := c.pipeline.Start(c); err != nil {
		return fmt.Errorf("failed to start pipeline for stream %s: %w", c.config.StreamName, err)
	}
	return nil
}

// Stop ends rendering
func (c *Component) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.pipeline == nil {
		c.OnEndGenerate()
		return
	}
	c.pipeline.Stop(c)
}

// BeginDestroy disables capturing and kicks off Stop
func (c *Component) BeginDestroy() {
	c.destroying.Store(true)
	c.synth.Stop()
	c.Stop()
	c.setState(StateClosing)
}

// IsReadyForFinishDestroy reports whether the stream has closed. It ends
// generation itself so a component destroyed mid-render cannot hang.
func (c *Component) IsReadyForFinishDestroy() bool {
	c.OnEndGenerate()
	return !c.notReadyForDestroy.Load()
}

// FinishDestroy aborts any still-open stream and resets the component
func (c *Component) FinishDestroy() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.synth.IsStreamOpen() {
		if err := c.synth.Abort(); err != nil {
			log.Printf("Stream %s: %v", c.config.StreamName, err)
		}
	}
	if c.synth.IsStreamOpen() {
		return ErrStreamStillOpen
	}

	c.streamOpen.Store(false)
	c.notReadyForDestroy.Store(false)
	c.destroying.Store(false)
	c.setState(StateIdle)
	return nil
}

// Stats returns a snapshot of the component's counters
func (c *Component) Stats() Stats {
	return Stats{
		ID:         c.id,
		StreamName: c.config.StreamName,
		State:      c.State(),
		Destroying: c.destroying.Load(),
		Network:    c.synth.IsNetwork(),
		Channels:   c.NumChannels(),
		SampleRate: c.Init(),
		Rendered:   c.rendered.Load(),
		Silent:     c.silent.Load(),
		Overflows:  c.overflows.Load(),
		Sent:       c.sent.Load(),
		SendErrors: c.sendErrors.Load(),
		Synth:      c.synth.Stats(),
	}
}
