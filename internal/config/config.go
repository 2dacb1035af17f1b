// ABOUTME: Environment-derived configuration
// ABOUTME: Loads an optional .env file and RESONATE_MIC_* variables with defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/internal/distribution"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/joho/godotenv"
)

// DefaultEnvFile is read when present
const DefaultEnvFile = ".env"

// Role selects whether this process sends or receives
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Config holds all runtime configuration
type Config struct {
	// Network
	Role          Role
	BroadcastAddr string
	Port          int
	ListenAddr    string
	PollInterval  time.Duration

	// Streams
	Streams         []string
	DeviceFilter    string
	Backend         string // malgo, portaudio, file, tone
	AudioFile       string
	ToneFrequency   float64
	FramesPerBuffer int

	// Rendering
	SampleRate     int
	OutputChannels int
	Output         string // oto, malgo, portaudio, none
	RecordPath     string

	// Discovery
	MDNS        bool
	ServiceName string

	Debug bool
}

// IsServer reports whether this process sends
func (c Config) IsServer() bool {
	return c.Role == RoleServer
}

// Load reads envFile (DefaultEnvFile when empty, skipped if missing) and
// then the environment
func Load(envFile string) (Config, error) {
	path := envFile
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if envFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "resonate-mic"
	}

	cfg := Config{
		Role:          Role(strings.ToLower(envStr("RESONATE_MIC_ROLE", string(RoleClient)))),
		BroadcastAddr: envStr("RESONATE_MIC_BROADCAST_ADDR", "255.255.255.255"),
		Port:          envInt("RESONATE_MIC_PORT", 16501),
		ListenAddr:    envStr("RESONATE_MIC_LISTEN_ADDR", ""),
		PollInterval:  envDuration("RESONATE_MIC_POLL_INTERVAL", 100*time.Millisecond),

		Streams:         envList("RESONATE_MIC_STREAMS", []string{"voice1"}),
		DeviceFilter:    envStr("RESONATE_MIC_DEVICE", ""),
		Backend:         envStr("RESONATE_MIC_BACKEND", "malgo"),
		AudioFile:       envStr("RESONATE_MIC_AUDIO_FILE", ""),
		ToneFrequency:   envFloat("RESONATE_MIC_TONE_FREQUENCY", 440),
		FramesPerBuffer: envInt("RESONATE_MIC_FRAMES_PER_BUFFER", 1024),

		SampleRate:     envInt("RESONATE_MIC_SAMPLE_RATE", 48000),
		OutputChannels: envInt("RESONATE_MIC_OUTPUT_CHANNELS", 2),
		Output:         envStr("RESONATE_MIC_OUTPUT", "oto"),
		RecordPath:     envStr("RESONATE_MIC_RECORD", ""),

		MDNS:        envBool("RESONATE_MIC_MDNS", true),
		ServiceName: envStr("RESONATE_MIC_SERVICE_NAME", hostname),

		Debug: envBool("RESONATE_MIC_DEBUG", false),
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	var errs []error

	if c.Role != RoleServer && c.Role != RoleClient {
		errs = append(errs, fmt.Errorf("role must be %q or %q, got %q", RoleServer, RoleClient, c.Role))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if len(c.Streams) == 0 {
		errs = append(errs, errors.New("at least one stream name is required"))
	}
	for _, s := range c.Streams {
		if len(s) > 255 {
			errs = append(errs, fmt.Errorf("stream name too long: %q", s))
		}
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid sample rate: %d", c.SampleRate))
	}
	if c.OutputChannels <= 0 || c.OutputChannels > 8 {
		errs = append(errs, fmt.Errorf("invalid output channel count: %d", c.OutputChannels))
	}
	if c.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("invalid frames per buffer: %d", c.FramesPerBuffer))
	}
	// A captured block is sent as one datagram at up to audio.MaxChannels
	for _, s := range c.Streams {
		if limit := distribution.MaxSamples(s) / audio.MaxChannels; c.FramesPerBuffer > limit {
			errs = append(errs, fmt.Errorf("frames per buffer %d exceeds one datagram for stream %q (max %d)",
				c.FramesPerBuffer, s, limit))
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll interval: %v", c.PollInterval))
	}

	switch c.Backend {
	case "malgo", "portaudio", "tone":
	case "file":
		if c.AudioFile == "" {
			errs = append(errs, errors.New("file backend requires an audio file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capture backend %q", c.Backend))
	}

	switch c.Output {
	case "oto", "malgo", "portaudio", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown output %q", c.Output))
	}

	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
