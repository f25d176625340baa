package telnet

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the client. All errors returned from public
// operations wrap at least one of these sentinels, so callers dispatch with
// errors.Is.
var (
	// ErrInvalidArgument reports a constructor or setter argument outside
	// its permitted range (port, timeout, prompt pattern).
	ErrInvalidArgument = errors.New("telnet: invalid argument")

	// ErrNameResolution reports that the configured host resolved to no
	// usable address.
	ErrNameResolution = errors.New("telnet: name resolution failed")

	// ErrConnection reports a dial, read, or write failure on the socket.
	ErrConnection = errors.New("telnet: connection error")

	// ErrTimeout reports that no byte arrived within the socket timeout.
	// It refines ErrConnection: errors.Is(err, ErrConnection) also holds.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrConnection)

	// ErrLogin wraps whatever failed during the login exchange.
	ErrLogin = errors.New("telnet: login failed")

	// ErrUnimplemented reports an internal state machine entering a state
	// it has no transition for. Reaching it is a programming error.
	ErrUnimplemented = errors.New("telnet: unimplemented state")

	// ErrUnlikely reports a failure closing the socket.
	ErrUnlikely = errors.New("telnet: close failed")
)
