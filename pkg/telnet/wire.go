// Package telnet implements a client for the Telnet protocol (RFC 854 and
// the option-negotiation extensions). It dials a remote server, answers
// option offers, assembles the incoming byte stream into lines, and returns
// server output up to a caller-defined prompt.
package telnet

import "fmt"

// Telnet IAC (Interpret As Command) constants per RFC 854.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	GA   byte = 249 // Go Ahead
	NOP  byte = 241
	SE   byte = 240 // Sub-negotiation End
)

// Telnet option codes the client may be offered. None are ever accepted;
// the client refuses every offer (DO/DONT answered with WONT, WILL with DONT).
const (
	OptEcho            byte = 1  // RFC 857
	OptSuppressGoAhead byte = 3  // RFC 858
	OptStatus          byte = 5  // RFC 859
	OptTerminalType    byte = 24 // RFC 1091
	OptNAWS            byte = 31 // RFC 1073
	OptLinemode        byte = 34 // RFC 1116
	OptNewEnviron      byte = 39
)

var commandNames = map[byte]string{
	IAC:  "IAC",
	DONT: "DONT",
	DO:   "DO",
	WONT: "WONT",
	WILL: "WILL",
	SB:   "SB",
	GA:   "GA",
	NOP:  "NOP",
	SE:   "SE",
}

var optionNames = map[byte]string{
	OptEcho:            "ECHO",
	OptSuppressGoAhead: "SUPPRESS-GO-AHEAD",
	OptStatus:          "STATUS",
	OptTerminalType:    "TERMINAL-TYPE",
	OptNAWS:            "NAWS",
	OptLinemode:        "LINEMODE",
	OptNewEnviron:      "NEW-ENVIRON",
}

// CommandName returns the RFC 854 mnemonic for a Telnet command byte, or a
// hex rendering for bytes this client has no name for.
func CommandName(b byte) string {
	if name, ok := commandNames[b]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", b)
}

// OptionName returns the mnemonic for a Telnet option byte, or a hex
// rendering for options this client has no name for.
func OptionName(b byte) string {
	if name, ok := optionNames[b]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", b)
}
