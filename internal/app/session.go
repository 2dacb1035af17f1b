// ABOUTME: Session orchestration for sender and receiver roles
// ABOUTME: Wires capture components, the UDP distribution subsystem, render pipeline and discovery
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/internal/capture"
	"github.com/Resonate-Protocol/resonate-mic/internal/config"
	"github.com/Resonate-Protocol/resonate-mic/internal/discovery"
	"github.com/Resonate-Protocol/resonate-mic/internal/distribution"
	"github.com/Resonate-Protocol/resonate-mic/internal/host"
	"github.com/Resonate-Protocol/resonate-mic/internal/lifecycle"
	"github.com/Resonate-Protocol/resonate-mic/internal/ui"
	"github.com/Resonate-Protocol/resonate-mic/internal/version"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/input"
)

// DefaultShutdownTimeout bounds how long Close waits for each stream
const DefaultShutdownTimeout = 2 * time.Second

// statsLogInterval is how often debug sessions log counters
const statsLogInterval = 5 * time.Second

// DeviceFactory builds a fresh capture device for one stream
type DeviceFactory func(cfg config.Config) (input.Capture, error)

// NewDevice returns the capture backend named by cfg.Backend
func NewDevice(cfg config.Config) (input.Capture, error) {
	switch cfg.Backend {
	case "malgo", "":
		return input.NewMalgo(), nil
	case "portaudio":
		return input.NewPortAudio(), nil
	case "file":
		if cfg.AudioFile == "" {
			return nil, errors.New("file backend needs an audio file")
		}
		return input.NewFile(cfg.AudioFile), nil
	case "tone":
		return input.NewTone(cfg.SampleRate, audio.DefaultChannels, cfg.ToneFrequency), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}

// Option customizes a Session
type Option func(*Session)

// WithDeviceFactory replaces the capture backend factory
func WithDeviceFactory(factory DeviceFactory) Option {
	return func(s *Session) {
		s.newDevice = factory
	}
}

// WithPipeline replaces the render pipeline built from configuration
func WithPipeline(pipeline host.Pipeline) Option {
	return func(s *Session) {
		s.pipeline = pipeline
	}
}

type volumeSetter interface {
	SetVolume(volume int)
	SetMuted(muted bool)
}

// Session runs one process's set of streams in either role
type Session struct {
	config    config.Config
	newDevice DeviceFactory

	executor     *lifecycle.Executor
	distribution *distribution.Subsystem
	pipeline     host.Pipeline
	recorder     io.WriteCloser
	discovery    *discovery.Manager

	mu         sync.Mutex
	components []*capture.Component
	started    bool

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession creates a session for cfg
func NewSession(cfg config.Config, opts ...Option) *Session {
	s := &Session{
		config:    cfg,
		newDevice: NewDevice,
		executor:  lifecycle.NewExecutor(lifecycle.DefaultQueueSize),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.distribution = distribution.New(distribution.Config{
		IsServer:      cfg.IsServer(),
		BroadcastAddr: cfg.BroadcastAddr,
		Port:          cfg.Port,
		ListenAddr:    cfg.ListenAddr,
		PollInterval:  cfg.PollInterval,
		Debug:         cfg.Debug,
	}, s.executor)
	return s
}

// Distribution returns the session's network subsystem
func (s *Session) Distribution() *distribution.Subsystem {
	return s.distribution
}

// Components returns the session's stream components
func (s *Session) Components() []*capture.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*capture.Component(nil), s.components...)
}

// Start brings up the network, registers every configured stream and
// starts discovery
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("session already started")
	}
	select {
	case <-s.stopChan:
		return errors.New("session closed")
	default:
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.executor.Start()

	if err := s.distribution.Initialize(ctx); err != nil {
		s.executor.Stop()
		return fmt.Errorf("failed to initialize distribution: %w", err)
	}

	if !s.config.IsServer() && s.pipeline == nil {
		if err := s.openPipeline(); err != nil {
			s.distribution.Deinitialize()
			s.executor.Stop()
			return err
		}
	}

	for _, name := range s.config.Streams {
		comp, err := s.newComponent(name)
		if err != nil {
			s.abortStart()
			return err
		}
		s.components = append(s.components, comp)

		if err := s.distribution.RegisterStream(comp); err != nil {
			// A sender keeps running with the streams it could open
			log.Printf("Stream %s: %v", name, err)
			if !s.config.IsServer() {
				s.abortStart()
				return err
			}
		}
	}

	if s.config.MDNS {
		s.startDiscovery()
	}

	s.started = true

	if s.config.Debug {
		s.wg.Add(1)
		go s.statsLoop()
	}

	log.Printf("Session started as %s on port %d with %d stream(s)",
		s.config.Role, s.config.Port, len(s.components))
	return nil
}

func (s *Session) openPipeline() error {
	format := audio.Format{SampleRate: s.config.SampleRate, Channels: s.config.OutputChannels}

	if s.config.RecordPath != "" {
		f, err := os.Create(s.config.RecordPath)
		if err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}
		s.recorder = f
	}

	var recorder io.Writer
	if s.recorder != nil {
		recorder = s.recorder
	}

	pipeline, err := host.New(s.config.Output, format, recorder)
	if err != nil {
		if s.recorder != nil {
			s.recorder.Close()
			s.recorder = nil
		}
		return fmt.Errorf("failed to create output: %w", err)
	}
	s.pipeline = pipeline
	return nil
}

func (s *Session) newComponent(name string) (*capture.Component, error) {
	cfg := capture.Config{
		StreamName:        name,
		DeviceInputName:   s.config.DeviceFilter,
		NetworkSampleRate: s.config.SampleRate,
		FramesPerBuffer:   s.config.FramesPerBuffer,
	}

	if !s.config.IsServer() {
		return capture.NewComponent(cfg, nil, nil, s.pipeline), nil
	}

	device, err := s.newDevice(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture device for %s: %w", name, err)
	}
	return capture.NewComponent(cfg, device, s.distribution, nil), nil
}

// abortStart undoes a partial Start; s.mu is held
func (s *Session) abortStart() {
	s.distribution.Deinitialize()
	s.executor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	s.destroyComponents(ctx)
	s.closePipeline()
}

func (s *Session) startDiscovery() {
	s.discovery = discovery.NewManager(discovery.Config{
		ServiceName: s.config.ServiceName,
		Port:        s.config.Port,
		Record: discovery.Record{
			Streams:    s.config.Streams,
			SampleRate: s.config.SampleRate,
			Version:    version.Version,
		},
	})

	if s.config.IsServer() {
		if err := s.discovery.Advertise(); err != nil {
			log.Printf("mDNS advertise failed: %v", err)
		}
		return
	}

	if err := s.discovery.Browse(); err != nil {
		log.Printf("mDNS browse failed: %v", err)
		return
	}

	s.wg.Add(1)
	go s.handleDiscovery()
}

// handleDiscovery reports discovered senders that carry one of this
// session's streams
func (s *Session) handleDiscovery() {
	defer s.wg.Done()

	wanted := make(map[string]bool, len(s.config.Streams))
	for _, name := range s.config.Streams {
		wanted[name] = true
	}

	senders := s.discovery.Senders()
	for {
		select {
		case sender := <-senders:
			if sender == nil {
				continue
			}
			matched := false
			for _, name := range sender.Streams {
				if wanted[name] {
					matched = true
					log.Printf("Sender %s at %s carries stream %s", sender.Name, sender.Host, name)
				}
			}
			if !matched && s.config.Debug {
				log.Printf("[DEBUG] Sender %s carries none of our streams", sender.Name)
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *Session) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			net := s.distribution.Stats()
			log.Printf("[DEBUG] net: sent=%d recv=%d bad=%d lost=%d",
				net.Sent, net.Received, net.DecodeErrors, net.Undeliverable)
			for _, comp := range s.Components() {
				st := comp.Stats()
				log.Printf("[DEBUG] stream %s: state=%s enqueued=%d rendered=%d dropped=%d sent=%d",
					st.StreamName, st.State, st.Synth.Enqueued, st.Rendered, st.Synth.Dropped, st.Sent)
			}
		case <-s.stopChan:
			return
		}
	}
}

// SetVolume applies a UI volume change to the render pipeline
func (s *Session) SetVolume(volume int, muted bool) {
	if v, ok := s.pipeline.(volumeSetter); ok {
		v.SetVolume(volume)
		v.SetMuted(muted)
	}
}

// Snapshot reports the session state for the monitor UI
func (s *Session) Snapshot() ui.StatusMsg {
	msg := ui.StatusMsg{Role: string(s.config.Role)}

	if addr := s.distribution.LocalAddr(); addr != nil {
		msg.Address = addr.String()
	}

	for _, comp := range s.Components() {
		st := comp.Stats()
		msg.Streams = append(msg.Streams, ui.StreamRow{
			Name:       st.StreamName,
			State:      st.State.String(),
			Network:    st.Network,
			Channels:   st.Channels,
			SampleRate: st.SampleRate,
			Enqueued:   st.Synth.Enqueued,
			Rendered:   st.Rendered,
			Dropped:    st.Synth.Dropped,
			Sent:       st.Sent,
			Overflows:  st.Overflows,
		})
	}

	net := s.distribution.Stats()
	msg.Network = ui.NetworkStats{
		Sent:          net.Sent,
		SendErrors:    net.SendErrors,
		Received:      net.Received,
		DecodeErrors:  net.DecodeErrors,
		Undeliverable: net.Undeliverable,
	}

	if s.discovery != nil {
		for _, sender := range s.discovery.Known() {
			msg.Senders = append(msg.Senders, fmt.Sprintf("%s (%s:%d)", sender.Name, sender.Host, sender.Port))
		}
		sort.Strings(msg.Senders)
	}
	return msg
}

// destroyComponents unregisters and destroys every component; s.mu is held
func (s *Session) destroyComponents(ctx context.Context) {
	for _, comp := range s.components {
		s.distribution.UnregisterStream(comp)
		if err := lifecycle.Destroy(ctx, comp, lifecycle.DefaultPollInterval); err != nil {
			log.Printf("Stream %s: %v", comp.StreamName(), err)
		}
	}
	s.components = nil
}

func (s *Session) closePipeline() {
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			log.Printf("Error closing output: %v", err)
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			log.Printf("Error closing recording: %v", err)
		}
		s.recorder = nil
	}
}

// Close tears the session down. The network and executor stop first so no
// stream can be reopened while it is being destroyed. Safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)

		if s.discovery != nil {
			s.discovery.Stop()
		}

		s.mu.Lock()
		if s.started {
			s.distribution.Deinitialize()
			s.executor.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			s.destroyComponents(ctx)
			cancel()

			s.closePipeline()
			s.started = false
		}
		s.mu.Unlock()

		s.wg.Wait()
		log.Printf("Session closed")
	})
	return nil
}
