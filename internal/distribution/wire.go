// ABOUTME: Datagram codec for broadcast audio blocks
// ABOUTME: Encodes and decodes stream name, format and float32 samples in one datagram
package distribution

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/resonate-mic/pkg/audio"
)

const (
	// DefaultPort is the well-known broadcast port
	DefaultPort = 16501

	// MaxDatagramSize is the largest UDP payload over IPv4
	MaxDatagramSize = 65507

	// headerSize is the fixed part of a datagram: name length, sample rate,
	// channel count and sample count
	headerSize = 4 + 4 + 4 + 4
)

var (
	// ErrShortDatagram is returned when a datagram ends before a field does
	ErrShortDatagram = errors.New("datagram too short")

	// ErrMalformedDatagram is returned for negative lengths or trailing bytes
	ErrMalformedDatagram = errors.New("malformed datagram")

	// ErrDatagramTooLarge is returned when a block does not fit one datagram
	ErrDatagramTooLarge = errors.New("block does not fit in one datagram")
)

// Packet is one decoded audio datagram.
//
// Wire format, all integers little-endian int32:
// [name_len][name:name_len][sample_rate][channels][sample_count][samples:4*sample_count]
// Samples are little-endian IEEE 754 float32, interleaved by channel.
type Packet struct {
	StreamName string
	SampleRate int
	Channels   int
	Samples    []float32
}

// EncodedSize returns the datagram size for a name and sample count
func EncodedSize(nameLen, samples int) int {
	return headerSize + nameLen + 4*samples
}

// MaxSamples returns how many samples fit in one datagram for a stream name
func MaxSamples(streamName string) int {
	n := (MaxDatagramSize - headerSize - len(streamName)) / 4
	if n < 0 {
		return 0
	}
	return n
}

// AppendPacket appends the encoded datagram to dst
func AppendPacket(dst []byte, p Packet) ([]byte, error) {
	size := EncodedSize(len(p.StreamName), len(p.Samples))
	if size > MaxDatagramSize {
		return dst, fmt.Errorf("%w: %d bytes for %d samples", ErrDatagramTooLarge, size, len(p.Samples))
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(len(p.StreamName))))
	dst = append(dst, p.StreamName...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(p.SampleRate)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(p.Channels)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(len(p.Samples))))

	start := len(dst)
	dst = append(dst, make([]byte, 4*len(p.Samples))...)
	audio.PutFloat32s(dst[start:], p.Samples)
	return dst, nil
}

// DecodePacket decodes a datagram into a new packet
func DecodePacket(data []byte) (Packet, error) {
	var p Packet
	err := DecodePacketInto(data, &p)
	return p, err
}

// DecodePacketInto decodes a datagram into p, reusing p.Samples
func DecodePacketInto(data []byte, p *Packet) error {
	r := reader{data: data}

	nameLen, err := r.length()
	if err != nil {
		return fmt.Errorf("stream name: %w", err)
	}
	name, err := r.bytes(nameLen)
	if err != nil {
		return fmt.Errorf("stream name: %w", err)
	}
	sampleRate, err := r.int32()
	if err != nil {
		return fmt.Errorf("sample rate: %w", err)
	}
	channels, err := r.int32()
	if err != nil {
		return fmt.Errorf("channel count: %w", err)
	}
	count, err := r.length()
	if err != nil {
		return fmt.Errorf("sample count: %w", err)
	}
	if count > math.MaxInt32/4 {
		return fmt.Errorf("sample count %d: %w", count, ErrMalformedDatagram)
	}
	raw, err := r.bytes(4 * count)
	if err != nil {
		return fmt.Errorf("samples: %w", err)
	}
	if r.remaining() != 0 {
		return fmt.Errorf("%d trailing bytes: %w", r.remaining(), ErrMalformedDatagram)
	}

	// Only allocate a name when it changes
	if p.StreamName != string(name) {
		p.StreamName = string(name)
	}
	p.SampleRate = int(sampleRate)
	p.Channels = int(channels)
	p.Samples = audio.AppendFloat32s(p.Samples[:0], raw)
	return nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) int32() (int32, error) {
	if r.remaining() < 4 {
		return 0, ErrShortDatagram
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return v, nil
}

func (r *reader) length() (int, error) {
	v, err := r.int32()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative length %d: %w", v, ErrMalformedDatagram)
	}
	return int(v), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrShortDatagram
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}
