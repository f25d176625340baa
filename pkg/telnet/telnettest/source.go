// Package telnettest provides a deterministic in-memory byte source for
// testing Telnet client behaviour without sockets.
package telnettest

import (
	"time"
)

// Chunk is one scripted burst of server output. Delay holds the chunk back
// for that long after the previous chunk was consumed, simulating a slow or
// stalling server.
type Chunk struct {
	Data  []byte
	Delay time.Duration
}

// Source replays scripted chunks through the telnet.ByteSource contract and
// records everything written to it. After the last chunk is consumed it
// reports "no byte available" forever, or returns ReadErr when one is set.
//
// Source is not safe for concurrent use, matching the single-goroutine model
// of the client it feeds.
type Source struct {
	chunks []Chunk
	idx    int
	off    int
	gate   time.Time
	gated  bool

	writes [][]byte

	// ReadErr, when non-nil, is returned once all chunks are consumed.
	ReadErr error
	// WriteErr, when non-nil, is returned by every Write call.
	WriteErr error
}

// NewSource builds a source that replays the given chunks in order.
func NewSource(chunks ...Chunk) *Source {
	return &Source{chunks: chunks}
}

// FromBytes builds a source that delivers data in a single immediate chunk.
func FromBytes(data []byte) *Source {
	return NewSource(Chunk{Data: data})
}

// TryReadByte delivers the next scripted byte, or reports no byte available
// while the current chunk's delay has not yet elapsed.
func (s *Source) TryReadByte() (byte, bool, error) {
	for s.idx < len(s.chunks) {
		chunk := s.chunks[s.idx]
		if s.off == 0 && chunk.Delay > 0 {
			if !s.gated {
				s.gate = time.Now().Add(chunk.Delay)
				s.gated = true
			}
			if time.Now().Before(s.gate) {
				return 0, false, nil
			}
		}
		if s.off < len(chunk.Data) {
			b := chunk.Data[s.off]
			s.off++
			return b, true, nil
		}
		s.idx++
		s.off = 0
		s.gated = false
	}
	if s.ReadErr != nil {
		return 0, false, s.ReadErr
	}
	return 0, false, nil
}

// Write records p.
func (s *Source) Write(p []byte) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return nil
}

// Writes returns every Write call's payload, in order.
func (s *Source) Writes() [][]byte {
	return s.writes
}

// Written returns all written bytes flattened into one slice.
func (s *Source) Written() []byte {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

// Exhausted reports whether every scripted chunk has been fully consumed.
func (s *Source) Exhausted() bool {
	return s.idx >= len(s.chunks)
}
