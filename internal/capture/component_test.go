// ABOUTME: Tests for the capture component
// ABOUTME: Covers the render pull contract, ring reslicing, network init and destruction
package capture

import (
	"errors"
	"testing"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
)

// newNetworkComponent returns a receiving component that has already seen
// its first datagram
func newNetworkComponent(t *testing.T, channels int) *Component {
	t.Helper()
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, nil)
	if !c.MarkStreamOpen() {
		t.Fatal("MarkStreamOpen failed on a fresh component")
	}
	if err := c.InitNetwork(channels, 48000); err != nil {
		t.Fatalf("InitNetwork failed: %v", err)
	}
	return c
}

func TestNewComponentDefaults(t *testing.T) {
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, nil)

	if c.ID() == "" {
		t.Error("expected component ID")
	}
	if c.Init() != audio.DefaultSampleRate {
		t.Errorf("sample rate = %d, want %d", c.Init(), audio.DefaultSampleRate)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if c.StreamName() != "voice1" {
		t.Errorf("stream name = %q", c.StreamName())
	}
}

func TestOnGenerateAudioSilentWhenClosed(t *testing.T) {
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, nil)

	out := make([]float32, 256)
	if n := c.OnGenerateAudio(out); n != len(out) {
		t.Errorf("returned %d, want %d", n, len(out))
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d written while closed", i)
		}
	}
}

func TestOnGenerateAudioRampUp(t *testing.T) {
	c := newNetworkComponent(t, 1)

	c.AddAudioData(ramp(0, audio.RampUpThreshold))
	out := make([]float32, 128)
	if n := c.OnGenerateAudio(out); n != len(out) {
		t.Fatalf("returned %d during ramp-up, want %d", n, len(out))
	}
	if out[1] != 0 {
		t.Fatal("wrote samples before the ramp-up threshold was exceeded")
	}

	c.AddAudioData(ramp(audio.RampUpThreshold, 1))
	if n := c.OnGenerateAudio(out); n != len(out) {
		t.Fatalf("returned %d, want %d", n, len(out))
	}
	for i, v := range out {
		if v != float32(i) {
			t.Fatalf("sample %d = %f, want %d", i, v, i)
		}
	}
}

func TestOnGenerateAudioBounds(t *testing.T) {
	sizes := []int{0, 1, 7, 480, 1024, 4096}

	for _, size := range sizes {
		c := newNetworkComponent(t, 1)
		c.AddAudioData(ramp(1, 2000))

		out := make([]float32, size+16)
		const sentinel = -1
		for i := range out {
			out[i] = sentinel
		}

		n := c.OnGenerateAudio(out[:size])
		if n < 0 || n > size {
			t.Fatalf("size %d: returned %d", size, n)
		}
		for i := size; i < len(out); i++ {
			if out[i] != sentinel {
				t.Fatalf("size %d: wrote past requested length at %d", size, i)
			}
		}
		for i := n; i < size; i++ {
			if out[i] != sentinel {
				t.Fatalf("size %d: wrote past returned count at %d", size, i)
			}
		}
	}
}

func TestOnGenerateAudioPartialWhenDataRunsOut(t *testing.T) {
	c := newNetworkComponent(t, 1)
	c.AddAudioData(ramp(0, 1100))

	out := make([]float32, 1000)
	if n := c.OnGenerateAudio(out); n != 1000 {
		t.Fatalf("first pull returned %d, want 1000", n)
	}

	clear(out)
	if n := c.OnGenerateAudio(out); n != 100 {
		t.Fatalf("second pull returned %d, want 100", n)
	}
	if out[0] != 1000 || out[99] != 1099 {
		t.Errorf("unexpected samples %f..%f", out[0], out[99])
	}
	if out[100] != 0 {
		t.Error("wrote past the available data")
	}

	if n := c.OnGenerateAudio(out); n != 0 {
		t.Errorf("pull with no data returned %d, want 0", n)
	}
}

func TestRingReproducesInputOrder(t *testing.T) {
	c := newNetworkComponent(t, 1)

	blocks := []int{1500, 3, 480, 1, 977, 2048, 64, 5}
	pulls := []int{256, 1, 1000, 333, 17, 4096, 480, 2}

	var fed int
	var got []float32
	out := make([]float32, 4096)
	for i := 0; i < 64; i++ {
		if i < len(blocks) {
			c.AddAudioData(ramp(fed, blocks[i]))
			fed += blocks[i]
		}
		size := pulls[i%len(pulls)]
		clear(out[:size])
		n := c.OnGenerateAudio(out[:size])
		got = append(got, out[:n]...)
	}

	if len(got) != fed {
		t.Fatalf("rendered %d samples, fed %d", len(got), fed)
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d = %f, want %d", i, v, i)
		}
	}
}

func TestOnEndGenerateIdempotent(t *testing.T) {
	c := newNetworkComponent(t, 2)

	c.OnEndGenerate()
	if c.IsStreamOpen() {
		t.Fatal("stream open after OnEndGenerate")
	}
	c.OnEndGenerate()
	if c.IsStreamOpen() {
		t.Fatal("stream open after second OnEndGenerate")
	}
	if c.State() != StateStopped {
		t.Errorf("state = %v, want stopped", c.State())
	}
	if c.Synth().IsCapturing() {
		t.Error("synth still capturing")
	}
}

func TestOverflowDropsData(t *testing.T) {
	c := newNetworkComponent(t, 2)

	if c.AddAudioData(make([]float32, audio.HardCap+1)) {
		t.Fatal("expected oversize block to be dropped")
	}
	if n := c.Synth().NumSamplesEnqueued(); n > audio.HardCap {
		t.Fatalf("enqueued %d exceeds limit", n)
	}

	out := make([]float32, 512)
	if n := c.OnGenerateAudio(out); n != len(out) {
		t.Errorf("returned %d, want silence for %d", n, len(out))
	}
}

func TestOnDataForwardsToSender(t *testing.T) {
	dev := newFakeDevice()
	sender := &fakeSender{}
	c := NewComponent(Config{StreamName: "voice1", DeviceInputName: "USB"}, dev, sender, nil)

	if err := c.OpenStream(); err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if c.State() != StateCapturing {
		t.Errorf("state = %v, want capturing", c.State())
	}
	if c.NumChannels() != 2 {
		t.Errorf("channels = %d, want 2", c.NumChannels())
	}

	block := ramp(0, 960)
	dev.deliver(block, 2, 44100)

	if len(sender.blocks) != 1 {
		t.Fatalf("sent %d blocks, want 1", len(sender.blocks))
	}
	got := sender.blocks[0]
	if got.name != "voice1" || got.sampleRate != 44100 || got.channels != 2 {
		t.Errorf("unexpected header: %+v", got)
	}
	if len(got.samples) != 960 || got.samples[959] != 959 {
		t.Errorf("unexpected samples: %d", len(got.samples))
	}

	// Forwarded blocks never reach the local accumulation buffer
	if n := c.Synth().NumSamplesEnqueued(); n != 0 {
		t.Errorf("enqueued = %d, want 0", n)
	}
	if c.Stats().Sent != 1 {
		t.Errorf("sent counter = %d, want 1", c.Stats().Sent)
	}
}

func TestOnDataSendErrorsCounted(t *testing.T) {
	sender := &fakeSender{err: errors.New("network down")}
	c := NewComponent(Config{StreamName: "voice1"}, nil, sender, nil)

	c.OnData(ramp(0, 10), 10, 1, 48000)
	if c.Stats().SendErrors != 1 {
		t.Errorf("send errors = %d, want 1", c.Stats().SendErrors)
	}
}

func TestOpenStreamFailureDegrades(t *testing.T) {
	dev := newFakeDevice()
	dev.openErr = errFakeOpen
	c := NewComponent(Config{StreamName: "voice1"}, dev, nil, nil)

	if err := c.OpenStream(); err == nil {
		t.Fatal("expected OpenStream to fail")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}

	out := make([]float32, 64)
	if n := c.OnGenerateAudio(out); n != len(out) {
		t.Errorf("returned %d, want silence", n)
	}
}

func TestMarkStreamOpen(t *testing.T) {
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, nil)

	if !c.MarkStreamOpen() {
		t.Fatal("first MarkStreamOpen should succeed")
	}
	if c.MarkStreamOpen() {
		t.Fatal("second MarkStreamOpen should fail")
	}
	c.CancelStreamOpen()
	if !c.MarkStreamOpen() {
		t.Fatal("MarkStreamOpen should succeed after cancel")
	}
}

func TestInitNetworkRejectsBadChannels(t *testing.T) {
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, nil)
	c.MarkStreamOpen()

	if err := c.InitNetwork(0, 48000); !errors.Is(err, ErrInvalidChannelCount) {
		t.Errorf("expected ErrInvalidChannelCount, got %v", err)
	}
	if c.IsStreamOpen() {
		t.Error("stream should be closed after rejected init")
	}
}

func TestInitNetworkStartsPipeline(t *testing.T) {
	pipeline := &fakePipeline{}
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, pipeline)

	c.MarkStreamOpen()
	if err := c.InitNetwork(2, 44100); err != nil {
		t.Fatalf("InitNetwork failed: %v", err)
	}
	if pipeline.started != 1 {
		t.Errorf("pipeline started %d times, want 1", pipeline.started)
	}
	if c.Init() != 44100 || c.NumChannels() != 2 {
		t.Errorf("format = %dHz %dch", c.Init(), c.NumChannels())
	}
	if !c.Synth().IsNetwork() {
		t.Error("synth not in network mode")
	}
	if c.State() != StateCapturing {
		t.Errorf("state = %v, want capturing", c.State())
	}
}

func TestInitNetworkPipelineFailureAllowsRetry(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("no output device")}
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, pipeline)

	if !c.MarkStreamOpen() {
		t.Fatal("MarkStreamOpen failed on a fresh component")
	}
	if err := c.InitNetwork(1, 48000); err == nil {
		t.Fatal("expected pipeline start error")
	}
	if c.IsStreamOpen() {
		t.Error("stream left marked open after failed start")
	}
	if c.Synth().IsNetwork() || c.Synth().IsCapturing() {
		t.Error("synth left in network mode after failed start")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}

	// Audio keeps arriving before the retry
	for i := 0; i < 2000; i++ {
		c.AddAudioData(make([]float32, 480))
	}
	if !c.MarkStreamOpen() {
		t.Fatal("next datagram could not retry the init")
	}
	pipeline.err = nil
	if err := c.InitNetwork(1, 48000); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if pipeline.started != 1 || c.State() != StateCapturing {
		t.Errorf("retry did not start rendering: started=%d state=%v", pipeline.started, c.State())
	}
}

func TestOversizeRenderRequestCountedSilent(t *testing.T) {
	c := newNetworkComponent(t, 1)
	c.AddAudioData(ramp(0, 2000))

	n := audio.HardCap + 1
	if got := c.OnGenerateAudio(make([]float32, n)); got != n {
		t.Fatalf("returned %d, want %d", got, n)
	}
	if got := c.Stats().Silent; got != uint64(n) {
		t.Errorf("silent = %d, want %d", got, n)
	}
	if got := c.Stats().Rendered; got != 0 {
		t.Errorf("rendered = %d, want 0", got)
	}
}

func TestDestroyProtocol(t *testing.T) {
	pipeline := &fakePipeline{}
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, pipeline)
	c.MarkStreamOpen()
	if err := c.InitNetwork(1, 48000); err != nil {
		t.Fatalf("InitNetwork failed: %v", err)
	}

	c.BeginDestroy()
	if !c.IsDestroying() {
		t.Fatal("expected destroying flag")
	}
	if c.Synth().IsCapturing() {
		t.Error("capturing after BeginDestroy")
	}
	if pipeline.stopped != 1 {
		t.Errorf("pipeline stopped %d times, want 1", pipeline.stopped)
	}
	if c.MarkStreamOpen() {
		t.Error("MarkStreamOpen succeeded while destroying")
	}
	if err := c.Start(); !errors.Is(err, ErrDestroying) {
		t.Errorf("expected ErrDestroying, got %v", err)
	}

	if !c.IsReadyForFinishDestroy() {
		t.Fatal("expected component to be ready for finish destroy")
	}
	if err := c.FinishDestroy(); err != nil {
		t.Fatalf("FinishDestroy failed: %v", err)
	}
	if c.Synth().IsStreamOpen() {
		t.Error("synth stream open after FinishDestroy")
	}
	if c.State() != StateIdle || c.IsDestroying() {
		t.Errorf("state = %v destroying = %v after FinishDestroy", c.State(), c.IsDestroying())
	}
}

func TestNotReadyForDestroyWhileGenerating(t *testing.T) {
	c := newNetworkComponent(t, 1)
	if !c.notReadyForDestroy.Load() {
		t.Fatal("expected destroy guard while generating")
	}

	// The readiness poll ends generation itself
	if !c.IsReadyForFinishDestroy() {
		t.Error("expected readiness after the poll ended generation")
	}
}

func TestFinishDestroyClosesDevice(t *testing.T) {
	dev := newFakeDevice()
	c := NewComponent(Config{StreamName: "voice1"}, dev, &fakeSender{}, nil)
	if err := c.OpenStream(); err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	c.BeginDestroy()
	if !c.IsReadyForFinishDestroy() {
		t.Fatal("expected component to be ready for finish destroy")
	}
	if err := c.FinishDestroy(); err != nil {
		t.Fatalf("FinishDestroy failed: %v", err)
	}
	if dev.IsStreamOpen() {
		t.Error("device stream left open")
	}
}

func TestScenarioVoice1Block(t *testing.T) {
	c := NewComponent(Config{StreamName: "voice1"}, nil, nil, nil)

	// First datagram: mark open, queue the samples, then run the init task
	block := ramp(0, 480)
	if !c.MarkStreamOpen() {
		t.Fatal("MarkStreamOpen failed")
	}
	c.AddAudioData(block)
	if err := c.InitNetwork(1, 48000); err != nil {
		t.Fatalf("InitNetwork failed: %v", err)
	}

	got, ok := c.Synth().GetAudioData(nil)
	if !ok {
		t.Fatal("expected audio data")
	}
	if len(got) != 480 {
		t.Fatalf("got %d samples, want 480", len(got))
	}
	for i := range block {
		if got[i] != block[i] {
			t.Fatalf("sample %d = %f, want %f", i, got[i], block[i])
		}
	}
}
