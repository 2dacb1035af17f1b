// ABOUTME: Network distribution package
// ABOUTME: UDP broadcast of audio blocks and the stream registry
// Package distribution fans captured audio streams out over UDP broadcast.
//
// Senders encode each captured block as one self-contained datagram and
// broadcast it to a well-known port. Receivers run a background loop that
// decodes datagrams and delivers their samples to every endpoint registered
// under the datagram's stream name. The first datagram for a stream
// schedules the endpoint's network initialization on the lifecycle
// scheduler; samples are delivered immediately regardless.
//
// Delivery is unreliable and unordered. There is no fragmentation, so a
// block must fit in one datagram.
package distribution
