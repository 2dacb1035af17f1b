// ABOUTME: Tests for session orchestration
// ABOUTME: Tests backend selection, validation and a loopback sender/receiver pair
package app

import (
	"context"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/internal/config"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/input"
)

func testConfig(role config.Role) config.Config {
	return config.Config{
		Role:            role,
		BroadcastAddr:   "127.0.0.1",
		Port:            16501,
		ListenAddr:      "127.0.0.1:0",
		PollInterval:    10 * time.Millisecond,
		Streams:         []string{"voice1"},
		Backend:         "tone",
		ToneFrequency:   440,
		FramesPerBuffer: 480,
		SampleRate:      48000,
		OutputChannels:  2,
		Output:          "none",
		ServiceName:     "test",
	}
}

func TestNewDevice(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		file    string
		wantErr bool
	}{
		{"tone", "tone", "", false},
		{"portaudio", "portaudio", "", false},
		{"file", "file", "voice.mp3", false},
		{"file without path", "file", "", true},
		{"unknown", "alsa", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(config.RoleServer)
			cfg.Backend = tt.backend
			cfg.AudioFile = tt.file

			device, err := NewDevice(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if device == nil {
				t.Fatal("expected a device")
			}
		})
	}
}

func TestToneBackendType(t *testing.T) {
	device, err := NewDevice(testConfig(config.RoleServer))
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	if _, ok := device.(*input.Tone); !ok {
		t.Errorf("expected *input.Tone, got %T", device)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(config.RoleClient)
	cfg.Streams = nil

	s := NewSession(cfg)
	defer s.Close()

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if s.Distribution().LocalAddr() != nil {
		t.Error("distribution should not be initialized")
	}
}

func TestCloseWithoutStart(t *testing.T) {
	s := NewSession(testConfig(config.RoleClient))

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected Start after Close to fail")
	}
}

func TestSnapshotBeforeStart(t *testing.T) {
	s := NewSession(testConfig(config.RoleServer))
	defer s.Close()

	snap := s.Snapshot()
	if snap.Role != "server" {
		t.Errorf("role = %q, want server", snap.Role)
	}
	if snap.Address != "" {
		t.Errorf("expected no address before start, got %q", snap.Address)
	}
	if len(snap.Streams) != 0 {
		t.Errorf("expected no streams, got %d", len(snap.Streams))
	}
}

func TestLoopbackSession(t *testing.T) {
	ctx := context.Background()

	receiver := NewSession(testConfig(config.RoleClient))
	if err := receiver.Start(ctx); err != nil {
		t.Fatalf("receiver Start failed: %v", err)
	}
	defer receiver.Close()

	senderCfg := testConfig(config.RoleServer)
	senderCfg.ListenAddr = ""
	senderCfg.Port = receiver.Distribution().LocalAddr().Port

	sender := NewSession(senderCfg)
	if err := sender.Start(ctx); err != nil {
		t.Fatalf("sender Start failed: %v", err)
	}
	defer sender.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := receiver.Snapshot()
		if len(snap.Streams) == 1 && snap.Streams[0].Network && snap.Streams[0].Rendered > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	snap := receiver.Snapshot()
	if len(snap.Streams) != 1 {
		t.Fatalf("expected one stream, got %d", len(snap.Streams))
	}
	row := snap.Streams[0]
	if !row.Network {
		t.Fatal("receiver stream never switched to network audio")
	}
	if row.Channels != 2 || row.SampleRate != 48000 {
		t.Errorf("unexpected format: %d channels at %dHz", row.Channels, row.SampleRate)
	}
	if row.Rendered == 0 {
		t.Error("receiver rendered no audio")
	}
	if snap.Network.Received == 0 {
		t.Error("receiver counted no datagrams")
	}

	sent := sender.Snapshot()
	if len(sent.Streams) != 1 || sent.Streams[0].Sent == 0 {
		t.Errorf("sender reported no sent blocks: %+v", sent.Streams)
	}
}

func TestCloseDestroysComponents(t *testing.T) {
	s := NewSession(testConfig(config.RoleClient))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	components := s.Components()
	if len(components) != 1 {
		t.Fatalf("expected one component, got %d", len(components))
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(s.Components()) != 0 {
		t.Error("components should be released")
	}
	if components[0].IsStreamOpen() {
		t.Error("component stream should be closed")
	}
	if s.Distribution().LocalAddr() != nil {
		t.Error("distribution should be deinitialized")
	}
}
