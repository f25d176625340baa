// Package ansi segments byte streams into plain text, bare escape sequences,
// and CSI control sequences (ECMA-48 / ANSI X3.64). It classifies without
// interpreting: no cursor or colour state is kept, callers simply keep the
// text and drop the rest.
package ansi

const (
	esc byte = 0x1B
	csi byte = '['
)

// Kind classifies a parsed segment.
type Kind int

const (
	// Text is a run of ordinary bytes.
	Text Kind = iota
	// Escape is ESC, any intermediate bytes, and a final byte in
	// [0x30, 0x7E].
	Escape
	// Control is ESC '[' (CSI), parameter bytes, and a final byte in
	// [0x40, 0x7E].
	Control
)

// String returns the segment kind name.
func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Escape:
		return "escape"
	case Control:
		return "control"
	}
	return "unknown"
}

// Segment is one classified run of input bytes. Complete is false only for an
// Escape or Control segment cut off by the end of input or by a following ESC.
type Segment struct {
	Kind     Kind
	Bytes    []byte
	Complete bool
}

// Parser splits input into ordered segments. The segment list from the most
// recent Parse call stays inspectable until the next call; Parse resets it.
//
// A Parser is reused across lines by the Telnet client. It is not safe for
// concurrent use.
type Parser struct {
	segments []Segment
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse segments data and returns the resulting list. Concatenating the
// Bytes of all returned segments always reproduces data exactly, malformed
// trailing sequences included.
func (p *Parser) Parse(data []byte) []Segment {
	p.segments = p.segments[:0]

	state := Text
	var buf []byte

	flush := func(complete bool) {
		if state == Text && len(buf) == 0 {
			return
		}
		p.segments = append(p.segments, Segment{
			Kind:     state,
			Bytes:    append([]byte(nil), buf...),
			Complete: complete,
		})
		buf = buf[:0]
	}

	i := 0
	for i < len(data) {
		c := data[i]
		if c == esc {
			// A new sequence interrupts whatever was accumulating.
			flush(state == Text)
			if i+1 < len(data) && data[i+1] == csi {
				state = Control
				buf = append(buf, c, data[i+1])
				i += 2
			} else {
				state = Escape
				buf = append(buf, c)
				i++
			}
			continue
		}

		buf = append(buf, c)
		switch state {
		case Escape:
			if c >= 0x30 && c <= 0x7E {
				flush(true)
				state = Text
			}
		case Control:
			if c >= 0x40 && c <= 0x7E {
				flush(true)
				state = Text
			}
		}
		i++
	}

	flush(state == Text)
	return p.segments
}

// Segments returns the list produced by the most recent Parse call.
func (p *Parser) Segments() []Segment {
	return p.segments
}

// Text concatenates the bytes of all Text segments from the most recent
// Parse call, in order.
func (p *Parser) Text() []byte {
	var out []byte
	for _, seg := range p.segments {
		if seg.Kind == Text {
			out = append(out, seg.Bytes...)
		}
	}
	return out
}

// Full concatenates the bytes of all segments from the most recent Parse
// call, reproducing the parsed input.
func (p *Parser) Full() []byte {
	var out []byte
	for _, seg := range p.segments {
		out = append(out, seg.Bytes...)
	}
	return out
}

// Strip removes escape and CSI control sequences from s, keeping only text.
// Useful for measuring the printable width of styled server output.
func Strip(s string) string {
	var p Parser
	p.Parse([]byte(s))
	return string(p.Text())
}
