// ABOUTME: Capture device tests
// ABOUTME: Verifies device selection helpers, the tone device and the PortAudio stub
package input

import (
	"math"
	"testing"
	"time"
)

func TestImplementsCapture(t *testing.T) {
	var _ Capture = (*Malgo)(nil)
	var _ Capture = (*PortAudio)(nil)
	var _ Capture = (*Tone)(nil)
	var _ Capture = (*File)(nil)
}

func TestFindByPrefix(t *testing.T) {
	devices := []DeviceInfo{
		{Index: 0, Name: "Built-in Microphone"},
		{Index: 1, Name: "USB Headset Mic"},
		{Index: 2, Name: "USB Audio Interface"},
	}

	tests := []struct {
		prefix    string
		wantIndex int
		wantFound bool
	}{
		{"USB", 1, true},
		{"USB Audio", 2, true},
		{"Built-in", 0, true},
		{"", 0, true},
		{"Headset", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			d, found := FindByPrefix(devices, tt.prefix)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if found && d.Index != tt.wantIndex {
				t.Errorf("index = %d, want %d", d.Index, tt.wantIndex)
			}
		})
	}
}

func TestResolveParams(t *testing.T) {
	info := DeviceInfo{InputChannels: 2, PreferredSampleRate: 44100}

	p := resolve(StreamParams{}, info)
	if p.SampleRate != 44100 || p.Channels != 2 || p.FramesPerBuffer != 1024 {
		t.Errorf("unexpected defaults: %+v", p)
	}

	p = resolve(StreamParams{SampleRate: 48000, Channels: 1, FramesPerBuffer: 480}, info)
	if p.SampleRate != 48000 || p.Channels != 1 || p.FramesPerBuffer != 480 {
		t.Errorf("explicit params overridden: %+v", p)
	}
}

func TestToneDeliversBlocks(t *testing.T) {
	tone := NewTone(48000, 1, 440)

	blocks := make(chan int, 16)
	err := tone.OpenStream(StreamParams{FramesPerBuffer: 480}, func(samples []float32, frames, channels, sampleRate int) {
		if channels != 1 || sampleRate != 48000 {
			t.Errorf("unexpected format %dch %dHz", channels, sampleRate)
		}
		select {
		case blocks <- frames:
		default:
		}
	})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer tone.CloseStream()

	if !tone.IsStreamOpen() {
		t.Fatal("expected stream to be open")
	}
	if err := tone.OpenStream(StreamParams{}, nil); err != ErrStreamAlreadyOpen {
		t.Errorf("expected ErrStreamAlreadyOpen, got %v", err)
	}

	if err := tone.StartStream(); err != nil {
		t.Fatalf("StartStream failed: %v", err)
	}

	select {
	case frames := <-blocks:
		if frames != 480 {
			t.Errorf("expected 480 frames per block, got %d", frames)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no block delivered")
	}

	if err := tone.StopStream(); err != nil {
		t.Errorf("StopStream failed: %v", err)
	}
	if err := tone.CloseStream(); err != nil {
		t.Errorf("CloseStream failed: %v", err)
	}
	if tone.IsStreamOpen() {
		t.Error("expected stream to be closed")
	}
}

func TestToneStartWithoutOpen(t *testing.T) {
	tone := NewTone(48000, 1, 0)
	if err := tone.StartStream(); err != ErrStreamNotOpen {
		t.Errorf("expected ErrStreamNotOpen, got %v", err)
	}
}

func TestToneRead(t *testing.T) {
	tone := NewTone(48000, 2, 1000)
	buf := make([]float32, 96)
	tone.Read(buf)

	for i := 0; i < len(buf); i += 2 {
		if buf[i] != buf[i+1] {
			t.Fatalf("frame %d: channels differ (%f vs %f)", i/2, buf[i], buf[i+1])
		}
		if math.Abs(float64(buf[i])) > 0.5+1e-6 {
			t.Fatalf("frame %d exceeds half amplitude: %f", i/2, buf[i])
		}
	}
	if buf[0] != 0 {
		t.Errorf("expected tone to start at zero phase, got %f", buf[0])
	}
}

func TestPortAudioStub(t *testing.T) {
	p := NewPortAudio()
	if p == nil {
		t.Fatal("NewPortAudio returned nil")
	}
	if p.IsStreamOpen() {
		t.Error("fresh PortAudio backend should not report an open stream")
	}
}

func TestFileMissing(t *testing.T) {
	f := NewFile("/nonexistent/audio.mp3")
	if _, err := f.Devices(); err == nil {
		t.Error("expected error for missing file")
	}
	if err := f.OpenStream(StreamParams{}, nil); err == nil {
		t.Error("expected OpenStream to fail for missing file")
	}
	if f.IsStreamOpen() {
		t.Error("stream should not be open after failed OpenStream")
	}
}
