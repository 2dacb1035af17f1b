// ABOUTME: TXT record fields carried in a sender's mDNS advertisement
// ABOUTME: Encodes stream names, sample rate and version as key=value pairs
package discovery

import (
	"strconv"
	"strings"
)

const (
	keyStreams = "streams"
	keyRate    = "rate"
	keyVersion = "version"
)

// Record is the metadata a sender publishes next to its address
type Record struct {
	Streams    []string
	SampleRate int
	Version    string
}

// Fields renders the record as TXT strings. Empty values are omitted
// except the stream list.
func (r Record) Fields() []string {
	fields := []string{keyStreams + "=" + strings.Join(r.Streams, ",")}
	if r.SampleRate > 0 {
		fields = append(fields, keyRate+"="+strconv.Itoa(r.SampleRate))
	}
	if r.Version != "" {
		fields = append(fields, keyVersion+"="+r.Version)
	}
	return fields
}

// ParseRecord reads a record from TXT strings, ignoring unknown keys
// and malformed values
func ParseRecord(fields []string) Record {
	var r Record
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case keyStreams:
			r.Streams = splitStreams(value)
		case keyRate:
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				r.SampleRate = rate
			}
		case keyVersion:
			r.Version = value
		}
	}
	return r
}

func splitStreams(value string) []string {
	var streams []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			streams = append(streams, s)
		}
	}
	return streams
}
