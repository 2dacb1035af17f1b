// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, environment overrides, .env files and validation
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/internal/distribution"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Role != RoleClient || cfg.IsServer() {
		t.Errorf("role = %q, want client", cfg.Role)
	}
	if cfg.Port != 16501 {
		t.Errorf("port = %d, want 16501", cfg.Port)
	}
	if cfg.BroadcastAddr != "255.255.255.255" {
		t.Errorf("broadcast address = %q", cfg.BroadcastAddr)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0] != "voice1" {
		t.Errorf("streams = %v", cfg.Streams)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESONATE_MIC_ROLE", "SERVER")
	t.Setenv("RESONATE_MIC_PORT", "17000")
	t.Setenv("RESONATE_MIC_STREAMS", "voice1, voice2 ,,stage")
	t.Setenv("RESONATE_MIC_POLL_INTERVAL", "250ms")
	t.Setenv("RESONATE_MIC_MDNS", "false")
	t.Setenv("RESONATE_MIC_DEBUG", "1")
	t.Setenv("RESONATE_MIC_SAMPLE_RATE", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.IsServer() {
		t.Errorf("role = %q, want server", cfg.Role)
	}
	if cfg.Port != 17000 {
		t.Errorf("port = %d", cfg.Port)
	}
	want := []string{"voice1", "voice2", "stage"}
	if len(cfg.Streams) != len(want) {
		t.Fatalf("streams = %v, want %v", cfg.Streams, want)
	}
	for i := range want {
		if cfg.Streams[i] != want[i] {
			t.Errorf("stream %d = %q, want %q", i, cfg.Streams[i], want[i])
		}
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.MDNS || !cfg.Debug {
		t.Errorf("mdns = %v debug = %v", cfg.MDNS, cfg.Debug)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("invalid sample rate should fall back to default, got %d", cfg.SampleRate)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mic.env")
	if err := os.WriteFile(path, []byte("RESONATE_MIC_DEVICE=USB\nRESONATE_MIC_BACKEND=tone\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RESONATE_MIC_DEVICE", "")
	t.Setenv("RESONATE_MIC_BACKEND", "")
	os.Unsetenv("RESONATE_MIC_DEVICE")
	os.Unsetenv("RESONATE_MIC_BACKEND")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DeviceFilter != "USB" || cfg.Backend != "tone" {
		t.Errorf("device = %q backend = %q", cfg.DeviceFilter, cfg.Backend)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing explicit env file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Role:            RoleClient,
		Port:            16501,
		Streams:         []string{"voice1"},
		Backend:         "malgo",
		Output:          "none",
		SampleRate:      48000,
		OutputChannels:  2,
		FramesPerBuffer: 1024,
		PollInterval:    100 * time.Millisecond,
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad role", func(c *Config) { c.Role = "relay" }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"no streams", func(c *Config) { c.Streams = nil }, true},
		{"file without path", func(c *Config) { c.Backend = "file" }, true},
		{"file with path", func(c *Config) { c.Backend = "file"; c.AudioFile = "a.mp3" }, false},
		{"unknown backend", func(c *Config) { c.Backend = "jack" }, true},
		{"unknown output", func(c *Config) { c.Output = "pulse" }, true},
		{"too many channels", func(c *Config) { c.OutputChannels = 9 }, true},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero frames per buffer", func(c *Config) { c.FramesPerBuffer = 0 }, true},
		{"largest block that fits a datagram", func(c *Config) {
			c.FramesPerBuffer = distribution.MaxSamples("voice1") / audio.MaxChannels
		}, false},
		{"block larger than a datagram", func(c *Config) { c.FramesPerBuffer = 16384 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Streams = append([]string(nil), base.Streams...)
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
