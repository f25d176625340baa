// Package script runs scripted sessions against a connected Telnet client:
// YAML batch scripts for plain command sequences and sandboxed Lua scripts
// for expect-style control flow.
package script

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Session is the client surface scripts drive. *telnet.Client satisfies it.
type Session interface {
	Exec(cmd string) ([]string, error)
	SendCommand(cmd string, addNewline bool) error
	WaitPrompt(drainRemaining bool) ([]string, error)
	SetRegexPrompt(expr string) error
	Prompt() string
}

// Step is one exchange in a batch script.
type Step struct {
	// Send is the command to execute.
	Send string `yaml:"send"`
	// Prompt, when set, overrides the session prompt for this step only.
	Prompt string `yaml:"prompt,omitempty"`
}

// Script is an ordered command sequence loaded from YAML.
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Load reads and validates a YAML batch script.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a Script with at least one step, or an error.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %q: %w", path, err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script %q: %w", path, err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("script %q has no steps", path)
	}
	for i, step := range s.Steps {
		if step.Send == "" {
			return nil, fmt.Errorf("script %q: step %d has no send", path, i+1)
		}
	}
	return &s, nil
}

// Run executes every step in order, writing the returned lines to out.
//
// Precondition: sess must be connected.
// Postcondition: Stops at the first failing step and returns its error.
func (s *Script) Run(sess Session, out io.Writer, logger *zap.Logger) error {
	for i, step := range s.Steps {
		logger.Debug("running step",
			zap.Int("step", i+1),
			zap.String("send", step.Send),
		)
		lines, err := runStep(sess, step)
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		if err != nil {
			return fmt.Errorf("step %d (%q): %w", i+1, step.Send, err)
		}
	}
	return nil
}

// runStep executes one step, restoring the session prompt when the step
// carried an override.
func runStep(sess Session, step Step) ([]string, error) {
	if step.Prompt != "" {
		saved := sess.Prompt()
		if err := sess.SetRegexPrompt(step.Prompt); err != nil {
			return nil, err
		}
		defer func() {
			_ = sess.SetRegexPrompt(saved)
		}()
	}
	return sess.Exec(step.Send)
}
