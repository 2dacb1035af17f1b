// ABOUTME: Broadcast distribution of captured audio streams
// ABOUTME: Sends blocks as UDP broadcast datagrams and demultiplexes received ones to registered streams
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotInitialized is returned when sending before Initialize
	ErrNotInitialized = errors.New("distribution not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize
	ErrAlreadyInitialized = errors.New("distribution already initialized")
)

const (
	DefaultBroadcastAddr = "255.255.255.255"
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultBufferSize    = 2 * 1024 * 1024
)

// initFailLogInterval rate-limits logging of repeated stream start failures
const initFailLogInterval = 100

// Config holds distribution configuration
type Config struct {
	// IsServer selects the sending role; receivers run the receive loop
	IsServer bool

	// BroadcastAddr and Port form the send destination
	BroadcastAddr string
	Port          int

	// ListenAddr overrides the receive socket address (default ":Port")
	ListenAddr string

	// PollInterval bounds how long the receive loop waits before
	// checking for a stop request
	PollInterval time.Duration

	SendBufferSize    int
	ReceiveBufferSize int

	Debug bool
}

// Scheduler runs one-shot lifecycle tasks on the stream lifecycle context.
// Post must not block.
type Scheduler interface {
	Post(task func()) bool
}

// SchedulerFunc adapts a function to Scheduler
type SchedulerFunc func(task func()) bool

// Post calls f
func (f SchedulerFunc) Post(task func()) bool {
	return f(task)
}

// Inline runs tasks on the caller's goroutine
var Inline = SchedulerFunc(func(task func()) bool {
	task()
	return true
})

// Endpoint is a registered stream. On senders it is opened as a local
// capture stream; on receivers it is fed from datagrams.
type Endpoint interface {
	StreamName() string
	OpenStream() error
	MarkStreamOpen() bool
	CancelStreamOpen()
	InitNetwork(channels, sampleRate int) error
	AddAudioData(samples []float32) bool
}

// StreamInfo describes one registry entry
type StreamInfo struct {
	Name      string
	Listeners int
}

// Stats is a snapshot of datagram counters
type Stats struct {
	Sent          uint64
	SendErrors    uint64
	Received      uint64
	DecodeErrors  uint64
	Delivered     uint64
	Undeliverable uint64
	Dropped       uint64
	InitScheduled uint64
	InitRejected  uint64
	InitFailed    uint64
}

// Subsystem owns the broadcast socket and the stream registry
type Subsystem struct {
	config    Config
	scheduler Scheduler

	mu      sync.Mutex
	streams map[string][]Endpoint

	lifeMu   sync.Mutex
	conn     *net.UDPConn
	stopChan chan struct{}
	wg       sync.WaitGroup

	sendMu  sync.Mutex
	dest    *net.UDPAddr
	sendBuf []byte

	sent          atomic.Uint64
	sendErrors    atomic.Uint64
	received      atomic.Uint64
	decodeErrors  atomic.Uint64
	delivered     atomic.Uint64
	undeliverable atomic.Uint64
	dropped       atomic.Uint64
	initScheduled atomic.Uint64
	initRejected  atomic.Uint64
	initFailed    atomic.Uint64
}

// New creates a subsystem. A nil scheduler runs lifecycle tasks inline.
func New(config Config, scheduler Scheduler) *Subsystem {
	if config.BroadcastAddr == "" {
		config.BroadcastAddr = DefaultBroadcastAddr
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultBufferSize
	}
	if config.ReceiveBufferSize <= 0 {
		config.ReceiveBufferSize = DefaultBufferSize
	}
	if scheduler == nil {
		scheduler = Inline
	}

	return &Subsystem{
		config:    config,
		scheduler: scheduler,
		streams:   make(map[string][]Endpoint),
	}
}

// IsServer reports whether the subsystem sends
func (s *Subsystem) IsServer() bool {
	return s.config.IsServer
}

// Initialize binds the socket. Receivers also start the receive loop.
func (s *Subsystem) Initialize(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.conn != nil {
		return ErrAlreadyInitialized
	}

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(s.config.BroadcastAddr, strconv.Itoa(s.config.Port)))
	if err != nil {
		return fmt.Errorf("invalid broadcast address: %w", err)
	}

	addr := s.config.ListenAddr
	if addr == "" {
		if s.config.IsServer {
			addr = ":0"
		} else {
			addr = ":" + strconv.Itoa(s.config.Port)
		}
	}

	lc := net.ListenConfig{Control: socketControl(true)}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	if s.config.IsServer {
		if err := conn.SetWriteBuffer(s.config.SendBufferSize); err != nil {
			log.Printf("Failed to set send buffer size: %v", err)
		}
	} else {
		if err := conn.SetReadBuffer(s.config.ReceiveBufferSize); err != nil {
			log.Printf("Failed to set receive buffer size: %v", err)
		}
	}

	s.sendMu.Lock()
	s.dest = dest
	s.conn = conn
	s.sendMu.Unlock()

	s.stopChan = make(chan struct{})

	if s.config.IsServer {
		log.Printf("Broadcasting audio from %s to %s", conn.LocalAddr(), dest)
		return nil
	}

	log.Printf("Receiving audio on %s", conn.LocalAddr())
	s.wg.Add(1)
	go s.receiveLoop(conn, s.stopChan)
	return nil
}

// LocalAddr returns the bound socket address, or nil before Initialize
func (s *Subsystem) LocalAddr() *net.UDPAddr {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Deinitialize stops the receive loop, waits for it and closes the socket.
// Safe to call repeatedly or without Initialize.
func (s *Subsystem) Deinitialize() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.conn == nil {
		return
	}

	close(s.stopChan)
	s.wg.Wait()

	s.sendMu.Lock()
	if err := s.conn.Close(); err != nil {
		log.Printf("Error closing UDP socket: %v", err)
	}
	s.conn = nil
	s.sendMu.Unlock()

	log.Printf("Distribution stopped")
}

// SendNetworkAudio encodes one block as a single datagram and sends it to
// the broadcast address
func (s *Subsystem) SendNetworkAudio(streamName string, sampleRate, channels int, samples []float32) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.conn == nil {
		return ErrNotInitialized
	}

	buf, err := AppendPacket(s.sendBuf[:0], Packet{
		StreamName: streamName,
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
	})
	s.sendBuf = buf
	if err != nil {
		s.sendErrors.Add(1)
		return err
	}

	if _, err := s.conn.WriteToUDP(buf, s.dest); err != nil {
		s.sendErrors.Add(1)
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// RegisterStream adds ep under its stream name. Senders open the first
// endpoint registered under a name as a local capture stream and ignore
// later ones; receivers only make it a delivery target.
func (s *Subsystem) RegisterStream(ep Endpoint) error {
	name := ep.StreamName()

	s.mu.Lock()
	existing, found := s.streams[name]
	if found {
		if s.config.IsServer {
			s.mu.Unlock()
			log.Printf("Stream %s already has a sender, ignoring registration", name)
			return nil
		}
		for _, e := range existing {
			if e == ep {
				s.mu.Unlock()
				return nil
			}
		}
	}
	s.streams[name] = append(existing, ep)
	s.mu.Unlock()

	if s.config.Debug {
		log.Printf("[DEBUG] Registered stream %s", name)
	}

	if s.config.IsServer && !found {
		if err := ep.OpenStream(); err != nil {
			return fmt.Errorf("failed to open stream %s: %w", name, err)
		}
	}
	return nil
}

// UnregisterStream removes ep. The name is dropped from the registry with
// its last endpoint. Once it returns no datagram reaches ep and init tasks
// still queued for ep are discarded.
func (s *Subsystem) UnregisterStream(ep Endpoint) {
	name := ep.StreamName()

	s.mu.Lock()
	defer s.mu.Unlock()

	endpoints, found := s.streams[name]
	if !found {
		return
	}
	for i, e := range endpoints {
		if e == ep {
			endpoints = append(endpoints[:i:i], endpoints[i+1:]...)
			break
		}
	}
	if len(endpoints) == 0 {
		delete(s.streams, name)
	} else {
		s.streams[name] = endpoints
	}

	if s.config.Debug {
		log.Printf("[DEBUG] Unregistered stream %s (%d left)", name, len(endpoints))
	}
}

// Streams lists the registry sorted by name
func (s *Subsystem) Streams() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]StreamInfo, 0, len(s.streams))
	for name, endpoints := range s.streams {
		infos = append(infos, StreamInfo{Name: name, Listeners: len(endpoints)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stats returns datagram counters
func (s *Subsystem) Stats() Stats {
	return Stats{
		Sent:          s.sent.Load(),
		SendErrors:    s.sendErrors.Load(),
		Received:      s.received.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		Delivered:     s.delivered.Load(),
		Undeliverable: s.undeliverable.Load(),
		Dropped:       s.dropped.Load(),
		InitScheduled: s.initScheduled.Load(),
		InitRejected:  s.initRejected.Load(),
		InitFailed:    s.initFailed.Load(),
	}
}

func (s *Subsystem) receiveLoop(conn *net.UDPConn, stopChan chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	var pkt Packet

	for {
		select {
		case <-stopChan:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.config.PollInterval)); err != nil {
			log.Printf("Failed to set read deadline: %v", err)
			return
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("UDP receive error: %v", err)
			// Keep polling without spinning on a persistent error
			select {
			case <-stopChan:
				return
			case <-time.After(s.config.PollInterval):
			}
			continue
		}

		s.received.Add(1)
		if err := DecodePacketInto(buf[:n], &pkt); err != nil {
			s.decodeErrors.Add(1)
			if s.config.Debug {
				log.Printf("[DEBUG] Dropping datagram from %s: %v", from, err)
			}
			continue
		}
		s.handlePacket(&pkt)
	}
}

// handlePacket delivers a decoded packet to every endpoint registered under
// its stream name. Delivery happens under the registry lock, so nothing
// reaches an endpoint once UnregisterStream has returned. Endpoints whose
// stream is not open yet get a one-shot init task on the scheduler.
func (s *Subsystem) handlePacket(pkt *Packet) {
	var opening []Endpoint

	s.mu.Lock()
	endpoints := s.streams[pkt.StreamName]
	if len(endpoints) == 0 {
		s.mu.Unlock()
		s.undeliverable.Add(1)
		return
	}
	for _, ep := range endpoints {
		if ep.MarkStreamOpen() {
			opening = append(opening, ep)
		}
		if ep.AddAudioData(pkt.Samples) {
			s.delivered.Add(1)
		} else {
			s.dropped.Add(1)
		}
	}
	s.mu.Unlock()

	// Posted outside the lock since the inline scheduler runs the task here
	for _, ep := range opening {
		s.scheduleInit(ep, pkt.Channels, pkt.SampleRate)
	}
}

// isRegistered reports whether ep is still in the registry
func (s *Subsystem) isRegistered(ep Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.streams[ep.StreamName()] {
		if e == ep {
			return true
		}
	}
	return false
}

func (s *Subsystem) scheduleInit(ep Endpoint, channels, sampleRate int) {
	ok := s.scheduler.Post(func() {
		if !s.isRegistered(ep) {
			ep.CancelStreamOpen()
			return
		}
		if err := ep.InitNetwork(channels, sampleRate); err != nil {
			if n := s.initFailed.Add(1); n == 1 || n%initFailLogInterval == 0 {
				log.Printf("Failed to start network stream %s (%d failures): %v", ep.StreamName(), n, err)
			}
		}
	})
	if !ok {
		// Let the next datagram retry
		ep.CancelStreamOpen()
		s.initRejected.Add(1)
		log.Printf("Lifecycle queue full, deferring start of stream %s", ep.StreamName())
		return
	}
	s.initScheduled.Add(1)
}
