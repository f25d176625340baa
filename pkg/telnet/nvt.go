package telnet

import (
	"fmt"

	"go.uber.org/zap"
)

// nvtState identifies which half of the NVT state machine is active.
type nvtState int

const (
	// nvtDefault passes data bytes through, watching for IAC and CR.
	nvtDefault nvtState = iota
	// nvtCommand accumulates an IAC sequence until it can be decided.
	nvtCommand
)

// nvtFilter demultiplexes Telnet protocol sequences out of the incoming byte
// stream. Data bytes are returned to the caller; option offers are answered
// synchronously on the wire (DO/DONT with WONT, WILL with DONT) before any
// later data byte is emitted; subnegotiation bodies are consumed and dropped.
//
// CR LF normalisation to \n happens only in the default state, so a CR LF
// inside a subnegotiation body is never rewritten.
type nvtFilter struct {
	wire   ByteSource
	logger *zap.Logger

	state   nvtState
	pending []byte
}

func newNVTFilter(wire ByteSource, logger *zap.Logger) *nvtFilter {
	return &nvtFilter{
		wire:   wire,
		logger: logger,
	}
}

// reset returns the machine to its initial state, discarding any pending
// partial sequence. Called on every new connection.
func (f *nvtFilter) reset() {
	f.state = nvtDefault
	f.pending = f.pending[:0]
}

// feed advances the state machine by one input byte and returns the data
// bytes released by it, if any. Negotiation replies are written to the wire
// before feed returns; a write failure is fatal for the current read.
func (f *nvtFilter) feed(c byte) ([]byte, error) {
	switch f.state {
	case nvtDefault:
		return f.feedDefault(c)
	case nvtCommand:
		return f.feedCommand(c)
	}
	return nil, fmt.Errorf("%w: NVT state %d", ErrUnimplemented, f.state)
}

// filter runs feed over a whole slice. Chunking is irrelevant: filtering a
// stream byte-by-byte or all at once yields identical output.
func (f *nvtFilter) filter(data []byte) ([]byte, error) {
	var out []byte
	for _, c := range data {
		emitted, err := f.feed(c)
		out = append(out, emitted...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (f *nvtFilter) feedDefault(c byte) ([]byte, error) {
	if len(f.pending) == 0 {
		switch c {
		case IAC, '\r':
			f.pending = append(f.pending, c)
			return nil, nil
		default:
			return []byte{c}, nil
		}
	}

	switch f.pending[0] {
	case IAC:
		if c == IAC {
			// Escaped IAC: a literal 0xFF data byte.
			f.pending = f.pending[:0]
			return []byte{IAC}, nil
		}
		f.pending = append(f.pending, c)
		f.state = nvtCommand
		return nil, nil
	case '\r':
		f.pending = f.pending[:0]
		if c == '\n' {
			return []byte{'\n'}, nil
		}
		// Bare CR: emit it as data and reprocess c as a fresh event.
		out := []byte{'\r'}
		more, err := f.feedDefault(c)
		return append(out, more...), err
	}
	return nil, fmt.Errorf("%w: pending byte 0x%02X in default state", ErrUnimplemented, f.pending[0])
}

func (f *nvtFilter) feedCommand(c byte) ([]byte, error) {
	f.pending = append(f.pending, c)
	if len(f.pending) < 3 {
		return nil, nil
	}

	if f.pending[1] == SB {
		// Subnegotiation runs until the IAC SE terminator.
		n := len(f.pending)
		if n >= 4 && f.pending[n-2] == IAC && f.pending[n-1] == SE {
			body := f.pending[2 : n-2]
			f.logger.Debug("subnegotiation discarded",
				zap.String("option", OptionName(f.pending[2])),
				zap.Binary("body", body),
			)
			f.reset()
		}
		return nil, nil
	}

	cmd, opt := f.pending[1], f.pending[2]
	f.reset()

	switch cmd {
	case DO, DONT:
		return nil, f.refuse(cmd, WONT, opt)
	case WILL:
		return nil, f.refuse(cmd, DONT, opt)
	case WONT:
		f.logger.Debug("option withdrawal ignored",
			zap.String("option", OptionName(opt)),
		)
		return nil, nil
	default:
		// Unknown command: the whole three-byte sequence is dropped.
		f.logger.Debug("unknown telnet command ignored",
			zap.String("command", CommandName(cmd)),
			zap.String("option", OptionName(opt)),
		)
		return nil, nil
	}
}

// refuse answers an option offer on the wire.
func (f *nvtFilter) refuse(offer, verb, opt byte) error {
	f.logger.Debug("refusing option",
		zap.String("offer", CommandName(offer)),
		zap.String("reply", CommandName(verb)),
		zap.String("option", OptionName(opt)),
	)
	if err := f.wire.Write([]byte{IAC, verb, opt}); err != nil {
		return fmt.Errorf("writing negotiation reply: %w", err)
	}
	return nil
}
