package telnet

import (
	"bytes"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diotteo/telnetclient/pkg/ansi"
)

// NoTimeout disables the socket or full-line timeout it is assigned to.
const NoTimeout time.Duration = -1

// DefaultPrompt matches the common shell prompt tails ($, #, >) with an
// optional trailing space.
const DefaultPrompt = `[$#>] ?$`

// Config holds the settings a Client is constructed with. Host and Port are
// fixed for the lifetime of the client, and so is ConnectTimeout; the socket
// and full-line timeouts, prompt, and flags can be adjusted later through
// setters.
type Config struct {
	// Host is a hostname or IP literal of the Telnet server.
	Host string
	// Port is the TCP port, 1-65535.
	Port int
	// ConnectTimeout bounds the TCP dial. Zero means no bound.
	ConnectTimeout time.Duration
	// SocketTimeout is the longest the client waits for the next byte.
	// NoTimeout waits forever.
	SocketTimeout time.Duration
	// FullLineTimeout bounds how long an unterminated line may accumulate,
	// measured from its first byte. NoTimeout waits forever; zero returns
	// the partial line as soon as the stream pauses.
	FullLineTimeout time.Duration
	// Prompt is the regular expression that marks command completion.
	// Empty selects DefaultPrompt.
	Prompt string
	// PruneControlSequences strips ANSI escape and CSI sequences from
	// returned lines.
	PruneControlSequences bool
	// DrainRemaining makes Exec pull the bytes still available after the
	// prompt matched.
	DrainRemaining bool
	// Logger receives protocol-level debug output. Nil disables logging.
	Logger *zap.Logger
}

// Client is a Telnet client for one remote endpoint. It owns the socket, the
// NVT filter, and the ANSI parser.
//
// A Client is driven by a single goroutine; distinct Clients are independent.
type Client struct {
	host            string
	port            int
	connectTimeout  time.Duration
	socketTimeout   time.Duration
	fullLineTimeout time.Duration
	prompt          *regexp.Regexp
	prune           bool
	drain           bool
	logger          *zap.Logger

	conn   net.Conn
	src    ByteSource
	nvt    *nvtFilter
	parser *ansi.Parser

	log       *zap.Logger // logger with session fields, valid while connected
	sessionID string

	lineBuf   bytes.Buffer
	lineStart time.Time
}

// New validates cfg and returns an unconnected Client.
//
// Postcondition: Returns a Client ready for Connect, or an error wrapping
// ErrInvalidArgument naming the offending field.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host must not be empty", ErrInvalidArgument)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidArgument, cfg.Port)
	}
	if cfg.ConnectTimeout < 0 {
		return nil, fmt.Errorf("%w: connect timeout must not be negative", ErrInvalidArgument)
	}
	if err := validateTimeout("socket timeout", cfg.SocketTimeout); err != nil {
		return nil, err
	}
	if err := validateTimeout("full-line timeout", cfg.FullLineTimeout); err != nil {
		return nil, err
	}

	promptExpr := cfg.Prompt
	if promptExpr == "" {
		promptExpr = DefaultPrompt
	}
	prompt, err := regexp.Compile(promptExpr)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling prompt %q: %v", ErrInvalidArgument, promptExpr, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		host:            cfg.Host,
		port:            cfg.Port,
		connectTimeout:  cfg.ConnectTimeout,
		socketTimeout:   cfg.SocketTimeout,
		fullLineTimeout: cfg.FullLineTimeout,
		prompt:          prompt,
		prune:           cfg.PruneControlSequences,
		drain:           cfg.DrainRemaining,
		logger:          logger,
		log:             logger,
	}, nil
}

// validateTimeout accepts non-negative durations and the NoTimeout sentinel.
func validateTimeout(name string, d time.Duration) error {
	if d < 0 && d != NoTimeout {
		return fmt.Errorf("%w: %s must be non-negative or NoTimeout", ErrInvalidArgument, name)
	}
	return nil
}

// Connect resolves the host, dials the server, and resets the protocol state
// machines. It must be called before any I/O operation.
//
// Postcondition: On success the client is connected with a fresh session ID;
// on failure the returned error wraps ErrNameResolution or ErrConnection.
func (c *Client) Connect() error {
	if c.conn != nil {
		return fmt.Errorf("%w: already connected", ErrInvalidArgument)
	}

	ip := net.ParseIP(c.host)
	if ip == nil {
		ips, err := net.LookupIP(c.host)
		if err != nil {
			return fmt.Errorf("%w: resolving %q: %v", ErrNameResolution, c.host, err)
		}
		if len(ips) == 0 {
			return fmt.Errorf("%w: %q resolved to no addresses", ErrNameResolution, c.host)
		}
		ip = ips[0]
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(c.port))
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", ErrConnection, addr, err)
	}

	c.sessionID = uuid.NewString()
	c.log = c.logger.With(
		zap.String("session_id", c.sessionID),
		zap.String("remote_addr", addr),
	)
	c.conn = conn
	c.src = newConnSource(conn)
	c.nvt = newNVTFilter(c.src, c.log)
	c.nvt.reset()
	c.parser = ansi.NewParser()
	c.lineBuf.Reset()
	c.lineStart = time.Time{}

	c.log.Debug("connected",
		zap.Duration("dial", time.Since(start)),
	)
	return nil
}

// ConnectSource attaches a caller-supplied byte source in place of a dialed
// socket and resets the protocol state machines. It serves tests (see the
// telnettest package) and custom transports; Connect is the normal path.
func (c *Client) ConnectSource(src ByteSource) {
	c.sessionID = uuid.NewString()
	c.log = c.logger.With(
		zap.String("session_id", c.sessionID),
	)
	c.conn = nil
	c.src = src
	c.nvt = newNVTFilter(src, c.log)
	c.nvt.reset()
	c.parser = ansi.NewParser()
	c.lineBuf.Reset()
	c.lineStart = time.Time{}
}

// Disconnect closes the socket if open. It is idempotent.
//
// Postcondition: The client is disconnected; a non-nil return wraps
// ErrUnlikely and means only that the close itself failed.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		c.src = nil
		c.nvt = nil
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.src = nil
	c.nvt = nil
	c.log.Debug("disconnected")
	c.log = c.logger
	if err := conn.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnlikely, err)
	}
	return nil
}

// Connected reports whether the client currently holds an open transport.
func (c *Client) Connected() bool {
	return c.src != nil
}

// SessionID returns the UUID assigned by the most recent Connect, or the
// empty string before the first connection.
func (c *Client) SessionID() string {
	return c.sessionID
}

// SetPrompt sets the prompt to the literal string s, escaping any regex
// metacharacters in it.
func (c *Client) SetPrompt(s string) error {
	return c.SetRegexPrompt(regexp.QuoteMeta(s))
}

// SetRegexPrompt compiles expr and installs it as the prompt pattern. The
// pattern is matched anywhere within each received line; anchor it with $
// when only line tails should count.
//
// Postcondition: On error (wrapping ErrInvalidArgument) the previous prompt
// stays installed.
func (c *Client) SetRegexPrompt(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("%w: compiling prompt %q: %v", ErrInvalidArgument, expr, err)
	}
	c.prompt = re
	return nil
}

// Prompt returns the current prompt pattern.
func (c *Client) Prompt() string {
	return c.prompt.String()
}

// SetSocketTimeout replaces the per-byte timeout.
func (c *Client) SetSocketTimeout(d time.Duration) error {
	if err := validateTimeout("socket timeout", d); err != nil {
		return err
	}
	c.socketTimeout = d
	return nil
}

// SocketTimeout returns the per-byte timeout.
func (c *Client) SocketTimeout() time.Duration {
	return c.socketTimeout
}

// SetFullLineTimeout replaces the per-line timeout.
func (c *Client) SetFullLineTimeout(d time.Duration) error {
	if err := validateTimeout("full-line timeout", d); err != nil {
		return err
	}
	c.fullLineTimeout = d
	return nil
}

// FullLineTimeout returns the per-line timeout.
func (c *Client) FullLineTimeout() time.Duration {
	return c.fullLineTimeout
}

// SetPruneControlSequences toggles ANSI stripping of returned lines.
func (c *Client) SetPruneControlSequences(prune bool) {
	c.prune = prune
}

// PruneControlSequences reports whether ANSI stripping is enabled.
func (c *Client) PruneControlSequences() bool {
	return c.prune
}

// SetDrainRemaining toggles draining of leftover bytes after Exec matches
// the prompt.
func (c *Client) SetDrainRemaining(drain bool) {
	c.drain = drain
}

// DrainRemaining reports whether post-prompt draining is enabled.
func (c *Client) DrainRemaining() bool {
	return c.drain
}

// SendCommand writes cmd to the server, appending CR LF when addNewline is
// set. Command bytes go out verbatim: the client does not IAC-escape user
// data, so 0xFF bytes in cmd reach the server as protocol bytes.
func (c *Client) SendCommand(cmd string, addNewline bool) error {
	if c.src == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}
	data := []byte(cmd)
	if addNewline {
		data = append(data, '\r', '\n')
	}
	c.log.Debug("sending command",
		zap.Int("bytes", len(data)),
	)
	return c.src.Write(data)
}

// GetLine returns the next line from the server and whether it matches the
// prompt pattern. With waitForFullLine false, an unterminated line is
// returned as soon as the stream pauses instead of waiting the full-line
// budget.
func (c *Client) GetLine(waitForFullLine bool) (line []byte, matchesPrompt bool, err error) {
	line, err = c.getNextLine(waitForFullLine)
	if err != nil {
		return nil, false, err
	}
	matchesPrompt = c.prompt.Match(bytes.TrimSuffix(line, []byte("\n")))
	return line, matchesPrompt, nil
}

// WaitPrompt reads lines until one matches the prompt pattern and returns
// them all, newline-stripped, the matching line last. With drainRemaining
// set, bytes still available after the match are pulled and split into
// additional lines.
func (c *Client) WaitPrompt(drainRemaining bool) ([]string, error) {
	if c.src == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnection)
	}

	var lines []string
	for {
		raw, err := c.getNextLine(true)
		if err != nil {
			return lines, err
		}
		line := strings.TrimSuffix(string(raw), "\n")
		lines = append(lines, line)
		if c.prompt.MatchString(line) {
			c.log.Debug("prompt matched",
				zap.Int("lines", len(lines)),
			)
			break
		}
	}

	if drainRemaining {
		extra, err := c.drainAvailable()
		if err != nil {
			return lines, err
		}
		if len(extra) > 0 {
			for _, line := range strings.Split(strings.TrimSuffix(string(extra), "\n"), "\n") {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

// Exec sends cmd (with CR LF) and waits for the prompt, honouring the
// configured drain flag.
func (c *Client) Exec(cmd string) ([]string, error) {
	if err := c.SendCommand(cmd, true); err != nil {
		return nil, err
	}
	return c.WaitPrompt(c.drain)
}

// Login drives a username/password exchange. An empty loginPrompt or
// passPrompt skips that phase. The configured prompt is restored before the
// final wait and on every failure path.
//
// Postcondition: Any failure is returned wrapping ErrLogin around its cause.
func (c *Client) Login(user, pass, loginPrompt, passPrompt string) error {
	saved := c.prompt
	defer func() { c.prompt = saved }()

	if loginPrompt != "" {
		if err := c.SetRegexPrompt(loginPrompt); err != nil {
			return fmt.Errorf("%w: login prompt: %w", ErrLogin, err)
		}
		if _, err := c.WaitPrompt(false); err != nil {
			return fmt.Errorf("%w: waiting for login prompt: %w", ErrLogin, err)
		}
		if err := c.SendCommand(user, true); err != nil {
			return fmt.Errorf("%w: sending username: %w", ErrLogin, err)
		}
	}

	if passPrompt != "" {
		if err := c.SetRegexPrompt(passPrompt); err != nil {
			return fmt.Errorf("%w: password prompt: %w", ErrLogin, err)
		}
		if _, err := c.WaitPrompt(false); err != nil {
			return fmt.Errorf("%w: waiting for password prompt: %w", ErrLogin, err)
		}
		if err := c.SendCommand(pass, true); err != nil {
			return fmt.Errorf("%w: sending password: %w", ErrLogin, err)
		}
	}

	c.prompt = saved
	if _, err := c.WaitPrompt(false); err != nil {
		return fmt.Errorf("%w: waiting for shell prompt: %w", ErrLogin, err)
	}
	return nil
}

// getNextLine pulls bytes through the NVT filter until a \n-terminated line
// is assembled or a timeout fires. The socket timeout is per byte and resets
// on every byte, protocol bytes included; the full-line budget runs from the
// line's first data byte and, on expiry, yields the partial line without \n.
func (c *Client) getNextLine(fullLineWait bool) ([]byte, error) {
	if c.src == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnection)
	}

	budget := c.fullLineTimeout
	if !fullLineWait {
		budget = 0
	}

	lastByte := time.Now()
	for {
		b, ok, err := c.src.TryReadByte()
		if err != nil {
			return nil, err
		}
		if ok {
			lastByte = time.Now()
			emitted, feedErr := c.nvt.feed(b)
			for _, d := range emitted {
				if c.lineBuf.Len() == 0 {
					c.lineStart = time.Now()
				}
				c.lineBuf.WriteByte(d)
				if d == '\n' {
					return c.takeLine(), feedErr
				}
			}
			if feedErr != nil {
				return nil, feedErr
			}
			continue
		}

		if c.socketTimeout != NoTimeout && time.Since(lastByte) >= c.socketTimeout {
			return nil, fmt.Errorf("%w: no byte within %s", ErrTimeout, c.socketTimeout)
		}
		if budget != NoTimeout && c.lineBuf.Len() > 0 && time.Since(c.lineStart) >= budget {
			return c.takeLine(), nil
		}
		time.Sleep(pollInterval)
	}
}

// takeLine empties the line buffer, applying ANSI pruning when enabled.
func (c *Client) takeLine() []byte {
	line := append([]byte(nil), c.lineBuf.Bytes()...)
	c.lineBuf.Reset()
	c.lineStart = time.Time{}
	if c.prune && len(line) > 0 {
		c.parser.Parse(line)
		line = c.parser.Text()
	}
	return line
}

// drainAvailable consumes every byte the source can deliver without waiting
// and returns the filtered data.
func (c *Client) drainAvailable() ([]byte, error) {
	var out []byte
	for {
		b, ok, err := c.src.TryReadByte()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		emitted, feedErr := c.nvt.feed(b)
		out = append(out, emitted...)
		if feedErr != nil {
			return out, feedErr
		}
	}
	if c.prune && len(out) > 0 {
		c.parser.Parse(out)
		out = c.parser.Text()
	}
	return out, nil
}
