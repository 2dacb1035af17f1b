// ABOUTME: MP3 file capture device
// ABOUTME: Decodes an MP3 file with go-mp3 and delivers it in real time, looping at EOF
package input

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed: go-mp3 always decodes to 16-bit stereo
const mp3Channels = 2

// File plays an MP3 file as a capture device
type File struct {
	clocked

	path string

	decMu   sync.Mutex
	file    *os.File
	decoder *mp3.Decoder
	pcm     []byte
	stereo  []float32
}

// NewFile creates a file-backed capture device
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) probe() (DeviceInfo, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	return DeviceInfo{
		Index:               0,
		Name:                "file:" + filepath.Base(f.path),
		InputChannels:       mp3Channels,
		PreferredSampleRate: decoder.SampleRate(),
		IsDefault:           true,
	}, nil
}

// Devices returns the file as the only device
func (f *File) Devices() ([]DeviceInfo, error) {
	info, err := f.probe()
	if err != nil {
		return nil, err
	}
	return []DeviceInfo{info}, nil
}

// DefaultDevice returns the file device
func (f *File) DefaultDevice() (DeviceInfo, error) {
	return f.probe()
}

// OpenStream opens the file and its decoder. The sample rate is always the
// file's own rate; the channel count may be 1 or 2.
func (f *File) OpenStream(params StreamParams, onCapture CaptureFunc) error {
	f.decMu.Lock()
	defer f.decMu.Unlock()

	if f.file != nil {
		return ErrStreamAlreadyOpen
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	info := DeviceInfo{InputChannels: mp3Channels, PreferredSampleRate: decoder.SampleRate()}
	params = resolve(params, info)
	params.SampleRate = decoder.SampleRate()
	if params.Channels > mp3Channels {
		params.Channels = mp3Channels
	}

	if err := f.openClocked(params, onCapture); err != nil {
		file.Close()
		return err
	}

	f.file = file
	f.decoder = decoder
	f.pcm = make([]byte, params.FramesPerBuffer*mp3Channels*2)
	f.stereo = make([]float32, params.FramesPerBuffer*mp3Channels)

	log.Printf("Audio file opened as capture device: %s (%dHz, %d channels)",
		f.path, params.SampleRate, params.Channels)
	return nil
}

// StartStream begins real-time playback of the file
func (f *File) StartStream() error {
	return f.startClocked(f.fill)
}

// StopStream pauses delivery
func (f *File) StopStream() error {
	return f.stopClocked()
}

// AbortStream stops delivery and closes the file
func (f *File) AbortStream() error {
	return f.CloseStream()
}

// CloseStream stops delivery and closes the file
func (f *File) CloseStream() error {
	f.closeClocked()

	f.decMu.Lock()
	defer f.decMu.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		f.decoder = nil
		return err
	}
	return nil
}

// fill decodes the next block, rewinding at end of file
func (f *File) fill(buf []float32) {
	f.decMu.Lock()
	defer f.decMu.Unlock()

	if f.decoder == nil {
		clear(buf)
		return
	}

	frames := len(buf) / f.params.Channels
	pcm := f.pcm[:frames*mp3Channels*2]

	read := 0
	rewound := false
	for read < len(pcm) {
		n, err := f.decoder.Read(pcm[read:])
		read += n
		if n > 0 {
			rewound = false
		}
		if errors.Is(err, io.EOF) {
			if rewound {
				// Nothing decodable after a rewind
				break
			}
			rewound = true
			if _, serr := f.decoder.Seek(0, io.SeekStart); serr != nil {
				log.Printf("Error rewinding audio file: %v", serr)
				break
			}
			continue
		}
		if err != nil {
			log.Printf("Error decoding audio file: %v", err)
			break
		}
	}
	clear(pcm[read:])

	stereo := f.stereo[:frames*mp3Channels]
	for i := range stereo {
		stereo[i] = audio.SampleFromInt16(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	audio.Remix(buf, stereo, mp3Channels, f.params.Channels)
}
