// ABOUTME: Capture device inspection tool
// ABOUTME: Lists devices, shows which one a name filter selects and measures input levels
package main

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-mic/internal/app"
	"github.com/Resonate-Protocol/resonate-mic/internal/capture"
	"github.com/Resonate-Protocol/resonate-mic/internal/config"
	"github.com/Resonate-Protocol/resonate-mic/internal/version"
	"github.com/Resonate-Protocol/resonate-mic/pkg/audio/input"
	"github.com/spf13/cobra"
)

var (
	backend   string
	audioFile string
	duration  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "resonate-mic-devices",
	Short: "Inspect capture devices",
	Long:  `resonate-mic-devices lists the capture devices a backend exposes and shows which one a stream would use`,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, err := newDevice()
		if err != nil {
			return err
		}
		return listDevices(device)
	},
}

var selectCmd = &cobra.Command{
	Use:   "select [name-prefix]",
	Short: "Show the device a name prefix selects (default device when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		device, err := newDevice()
		if err != nil {
			return err
		}
		_, _, err = selectDevice(capture.NewSynth(device, nil), filterArg(args))
		return err
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen [name-prefix]",
	Short: "Capture from the selected device and report peak and RMS levels",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		device, err := newDevice()
		if err != nil {
			return err
		}
		return listen(device, filterArg(args), duration)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "malgo", "capture backend: malgo, portaudio, file or tone")
	rootCmd.PersistentFlags().StringVar(&audioFile, "file", "", "MP3 file for the file backend")
	listenCmd.Flags().DurationVar(&duration, "duration", 3*time.Second, "how long to capture")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDevice() (input.Capture, error) {
	return app.NewDevice(config.Config{
		Backend:    backend,
		AudioFile:  audioFile,
		SampleRate: 48000,
	})
}

func filterArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func listDevices(device input.Capture) error {
	devices, err := device.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	fmt.Printf("%-4s %-40s %8s %10s\n", "IDX", "NAME", "CHANNELS", "RATE")
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " *"
		}
		fmt.Printf("%-4d %-40s %8d %10d%s\n", d.Index, d.Name, d.InputChannels, d.PreferredSampleRate, marker)
	}
	return nil
}

func selectDevice(synth *capture.Synth, filter string) (input.DeviceInfo, int, error) {
	info, index, err := synth.SelectDevice(filter)
	if err != nil {
		return info, index, fmt.Errorf("no device selected: %w", err)
	}
	fmt.Printf("Selected: %s (%d channels, %dHz)\n", info.Name, info.InputChannels, info.PreferredSampleRate)
	return info, index, nil
}

// levelMeter accumulates peak and RMS over captured blocks
type levelMeter struct {
	mu     sync.Mutex
	blocks int
	peak   float64
	sumSq  float64
	count  int
}

func (m *levelMeter) add(samples []float32, frames, channels, sampleRate int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks++
	for _, s := range samples[:min(frames*channels, len(samples))] {
		v := math.Abs(float64(s))
		m.peak = math.Max(m.peak, v)
		m.sumSq += v * v
		m.count++
	}
}

func (m *levelMeter) report() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rms := 0.0
	if m.count > 0 {
		rms = math.Sqrt(m.sumSq / float64(m.count))
	}
	return fmt.Sprintf("Captured %d blocks, peak %.3f, rms %.3f", m.blocks, m.peak, rms)
}

func listen(device input.Capture, filter string, d time.Duration) error {
	meter := &levelMeter{}
	synth := capture.NewSynth(device, meter.add)

	_, index, err := selectDevice(synth, filter)
	if err != nil {
		return err
	}

	if err := synth.Open(index, 1024); err != nil {
		return err
	}
	synth.Start()
	time.Sleep(d)
	synth.Stop()
	if err := synth.Abort(); err != nil {
		return err
	}

	fmt.Println(meter.report())
	return nil
}
