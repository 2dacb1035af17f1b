// ABOUTME: mDNS advertisement and browsing of audio senders
// ABOUTME: Senders publish a TXT record of their streams; receivers track senders until they go quiet
package discovery

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type of a sender
const ServiceType = "_resonate-mic._udp"

const (
	defaultBrowseInterval = 5 * time.Second
	queryTimeout          = 3 * time.Second

	// senders missing from this many consecutive browse rounds are dropped
	missedRoundsBeforeLost = 3
)

// Config holds discovery configuration
type Config struct {
	// ServiceName is the advertised instance name
	ServiceName string

	// Port is the broadcast port the sender sends to
	Port int

	// Record is published with the advertisement
	Record Record

	// BrowseInterval is the pause between browse queries
	BrowseInterval time.Duration
}

// SenderInfo describes a discovered sender
type SenderInfo struct {
	Name       string
	Host       string
	Port       int
	Streams    []string
	SampleRate int
	Version    string
	LastSeen   time.Time
}

// Manager advertises this process as a sender or browses for others
type Manager struct {
	config  Config
	senders chan *SenderInfo
	now     func() time.Time

	mu     sync.Mutex
	known  map[string]*SenderInfo
	server *mdns.Server

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.BrowseInterval <= 0 {
		config.BrowseInterval = defaultBrowseInterval
	}
	return &Manager{
		config:   config,
		senders:  make(chan *SenderInfo, 10),
		now:      time.Now,
		known:    make(map[string]*SenderInfo),
		stopChan: make(chan struct{}),
	}
}

// Advertise publishes this sender on every up, non-loopback IPv4 interface
func (m *Manager) Advertise() error {
	ips, err := advertisableIPs()
	if err != nil {
		return fmt.Errorf("list interface addresses: %w", err)
	}
	if len(ips) == 0 {
		return errors.New("no IPv4 interface to advertise on")
	}

	zone, err := mdns.NewMDNSService(m.config.ServiceName, ServiceType, "", "",
		m.config.Port, ips, m.config.Record.Fields())
	if err != nil {
		return fmt.Errorf("build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("start mdns responder: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	log.Printf("Advertising %s on port %d (streams: %s)",
		m.config.ServiceName, m.config.Port, strings.Join(m.config.Record.Streams, ","))
	return nil
}

// Browse queries for senders in the background until Stop
func (m *Manager) Browse() error {
	m.wg.Add(1)
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	defer m.wg.Done()

	for {
		m.browseOnce()
		m.expire()

		select {
		case <-m.stopChan:
			return
		case <-time.After(m.config.BrowseInterval):
		}
	}
}

func (m *Manager) browseOnce() {
	entries := make(chan *mdns.ServiceEntry, 10)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for entry := range entries {
			m.handleEntry(entry)
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     queryTimeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	<-drained

	if err != nil {
		log.Printf("mDNS query failed: %v", err)
	}
}

// handleEntry records a browse answer and announces senders seen for the
// first time
func (m *Manager) handleEntry(entry *mdns.ServiceEntry) {
	if entry == nil || entry.AddrV4 == nil {
		return
	}

	record := ParseRecord(entry.InfoFields)
	sender := &SenderInfo{
		Name:       entry.Name,
		Host:       entry.AddrV4.String(),
		Port:       entry.Port,
		Streams:    record.Streams,
		SampleRate: record.SampleRate,
		Version:    record.Version,
		LastSeen:   m.now(),
	}

	m.mu.Lock()
	_, seen := m.known[sender.Name]
	m.known[sender.Name] = sender
	m.mu.Unlock()

	if seen {
		return
	}

	log.Printf("Discovered sender %s at %s:%d (streams: %s)",
		sender.Name, sender.Host, sender.Port, strings.Join(sender.Streams, ","))

	select {
	case m.senders <- sender:
	default:
	}
}

// expire forgets senders that stopped answering
func (m *Manager) expire() {
	cutoff := m.now().Add(-missedRoundsBeforeLost * (m.config.BrowseInterval + queryTimeout))

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.known {
		if s.LastSeen.Before(cutoff) {
			delete(m.known, name)
			log.Printf("Sender %s went quiet", name)
		}
	}
}

// Senders returns the channel of newly discovered senders
func (m *Manager) Senders() <-chan *SenderInfo {
	return m.senders
}

// Known returns the senders currently tracked, sorted by name
func (m *Manager) Known() []SenderInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SenderInfo, 0, len(m.known))
	for _, s := range m.known {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop withdraws the advertisement and waits for browsing to finish
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)

		m.mu.Lock()
		server := m.server
		m.server = nil
		m.mu.Unlock()

		if server != nil {
			if err := server.Shutdown(); err != nil {
				log.Printf("mDNS shutdown: %v", err)
			}
		}
	})
	m.wg.Wait()
}

func advertisableIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil {
				ips = append(ips, v4)
			}
		}
	}
	return ips, nil
}
