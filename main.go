// ABOUTME: Entry point for the Resonate Mic sender/receiver
// ABOUTME: Parses CLI flags over environment configuration and runs a session
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/internal/app"
	"github.com/Resonate-Protocol/resonate-mic/internal/config"
	"github.com/Resonate-Protocol/resonate-mic/internal/ui"
	"github.com/Resonate-Protocol/resonate-mic/internal/version"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	envFile    = flag.String("env", "", "Environment file (default .env if present)")
	logFile    = flag.String("log-file", "resonate-mic.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	cfg, err := config.Load(*envFileFromArgs())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	role := flag.String("role", string(cfg.Role), "Role: server (capture and broadcast) or client (receive and play)")
	streams := flag.String("streams", strings.Join(cfg.Streams, ","), "Comma separated stream names")
	port := flag.Int("port", cfg.Port, "UDP port")
	broadcast := flag.String("broadcast", cfg.BroadcastAddr, "Broadcast address for outgoing audio")
	listen := flag.String("listen", cfg.ListenAddr, "Listen address override")
	device := flag.String("device", cfg.DeviceFilter, "Capture device name prefix (empty for default)")
	backend := flag.String("backend", cfg.Backend, "Capture backend: malgo, portaudio, file or tone")
	audioFile := flag.String("file", cfg.AudioFile, "MP3 file for the file backend")
	output := flag.String("output", cfg.Output, "Output: oto, malgo, portaudio or none")
	record := flag.String("record", cfg.RecordPath, "Write rendered float32 audio to this file (output none)")
	sampleRate := flag.Int("sample-rate", cfg.SampleRate, "Network and output sample rate")
	noMDNS := flag.Bool("no-mdns", !cfg.MDNS, "Disable mDNS advertisement and browsing")
	name := flag.String("name", cfg.ServiceName, "mDNS service name")
	debug := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	if *showVer {
		log.SetFlags(0)
		log.Print(version.String())
		return
	}

	cfg.Role = config.Role(strings.ToLower(*role))
	cfg.Streams = splitList(*streams)
	cfg.Port = *port
	cfg.BroadcastAddr = *broadcast
	cfg.ListenAddr = *listen
	cfg.DeviceFilter = *device
	cfg.Backend = *backend
	cfg.AudioFile = *audioFile
	cfg.Output = *output
	cfg.RecordPath = *record
	cfg.SampleRate = *sampleRate
	cfg.MDNS = !*noMDNS
	cfg.ServiceName = *name
	cfg.Debug = *debug

	// Determine if we should use TUI or streaming logs
	useTUI := !(*noTUI || *streamLogs)

	// Set up logging
	rotator := &lumberjack.Logger{
		Filename:   *logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}
	defer func() { _ = rotator.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(rotator)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting %s as %s (streams: %s)", version.String(), cfg.Role, strings.Join(cfg.Streams, ", "))

	session := app.NewSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = session.Start(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	var monitor *ui.Monitor
	if useTUI {
		monitor = ui.NewMonitor(session, ui.DefaultRefreshInterval)
		go func() {
			if err := monitor.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
		go handleVolumeControl(session, monitor.Controls())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for quit signal from TUI or OS
	if monitor != nil {
		select {
		case <-monitor.Controls().Quit:
			log.Printf("Received quit signal from TUI")
		case <-sigChan:
			log.Printf("Shutdown signal received")
			monitor.Stop()
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	if err := session.Close(); err != nil {
		log.Printf("Error closing session: %v", err)
	}

	log.Printf("Stopped")
}

// envFileFromArgs finds -env ahead of flag.Parse so the loaded file can
// supply the other flags' defaults
func envFileFromArgs() *string {
	args := os.Args[1:]
	for i, arg := range args {
		for _, prefix := range []string{"-env=", "--env="} {
			if strings.HasPrefix(arg, prefix) {
				value := strings.TrimPrefix(arg, prefix)
				return &value
			}
		}
		if (arg == "-env" || arg == "--env") && i+1 < len(args) {
			return &args[i+1]
		}
	}
	return envFile
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// handleVolumeControl processes volume changes from TUI
func handleVolumeControl(session *app.Session, volumeCtrl *ui.VolumeControl) {
	for vol := range volumeCtrl.Changes {
		log.Printf("Volume change: %d%%, muted=%v", vol.Volume, vol.Muted)
		session.SetVolume(vol.Volume, vol.Muted)
	}
}
