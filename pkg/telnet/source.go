package telnet

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// pollInterval is how long read loops sleep when the source has no byte
// available, to avoid spinning on the socket.
const pollInterval = 5 * time.Microsecond

// ByteSource is the non-blocking byte interface the NVT filter consumes.
// TryReadByte returns immediately: ok is false when no byte is available at
// this instant. Write either writes all of p or fails.
//
// The client owns one ByteSource per connection; negotiation replies and user
// commands both go through Write, serialized by the single-goroutine usage
// model.
type ByteSource interface {
	TryReadByte() (b byte, ok bool, err error)
	Write(p []byte) error
}

// connSource adapts a net.Conn into a ByteSource by issuing one-byte reads
// under a read deadline one poll interval ahead. A deadline expiry means "no
// byte now"; any other read error is a connection error.
type connSource struct {
	conn net.Conn
	buf  [1]byte
}

func newConnSource(conn net.Conn) *connSource {
	return &connSource{conn: conn}
}

// TryReadByte reads one byte without blocking.
//
// Postcondition: ok is true with a valid byte, or ok is false with err nil
// (no byte available) or err wrapping ErrConnection (socket failure).
func (s *connSource) TryReadByte() (byte, bool, error) {
	// A deadline already in the past fails the read before any buffered
	// byte is taken, so the deadline lies one poll interval ahead.
	if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, false, fmt.Errorf("%w: setting read deadline: %v", ErrConnection, err)
	}
	n, err := s.conn.Read(s.buf[:])
	if n == 1 {
		return s.buf[0], true, nil
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: read: %v", ErrConnection, err)
	}
	return 0, false, nil
}

// Write sends p in full.
//
// Postcondition: Returns nil only when len(p) bytes were written.
func (s *connSource) Write(p []byte) error {
	if err := s.conn.SetWriteDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: setting write deadline: %v", ErrConnection, err)
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	if n < len(p) {
		return fmt.Errorf("%w: short write: %d of %d bytes", ErrConnection, n, len(p))
	}
	return nil
}
