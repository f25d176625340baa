package script

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession records the calls a script makes against it.
type fakeSession struct {
	prompt    string
	execed    []string
	sent      []string
	prompts   []string
	responses map[string][]string
	waitLines []string
	failOn    string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		prompt:    `\$`,
		responses: make(map[string][]string),
	}
}

func (f *fakeSession) Exec(cmd string) ([]string, error) {
	if cmd == f.failOn {
		return nil, fmt.Errorf("exec %q failed", cmd)
	}
	f.execed = append(f.execed, cmd)
	return f.responses[cmd], nil
}

func (f *fakeSession) SendCommand(cmd string, addNewline bool) error {
	if addNewline {
		cmd += "\r\n"
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSession) WaitPrompt(drainRemaining bool) ([]string, error) {
	return f.waitLines, nil
}

func (f *fakeSession) SetRegexPrompt(expr string) error {
	f.prompts = append(f.prompts, expr)
	f.prompt = expr
	return nil
}

func (f *fakeSession) Prompt() string {
	return f.prompt
}

// --- YAML batch scripts ---

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeScript(t, `
steps:
  - send: show version
  - send: enable
    prompt: 'Password: $'
`)
	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "show version", s.Steps[0].Send)
	assert.Equal(t, `Password: $`, s.Steps[1].Prompt)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyRejected(t *testing.T) {
	path := writeScript(t, `steps: []`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestLoad_StepWithoutSendRejected(t *testing.T) {
	path := writeScript(t, `
steps:
  - prompt: '>$'
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no send")
}

func TestRun_ExecutesStepsInOrder(t *testing.T) {
	sess := newFakeSession()
	sess.responses["one"] = []string{"first", "$"}
	sess.responses["two"] = []string{"second", "$"}

	s := &Script{Steps: []Step{{Send: "one"}, {Send: "two"}}}
	var out bytes.Buffer
	err := s.Run(sess, &out, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, sess.execed)
	assert.Equal(t, "first\n$\nsecond\n$\n", out.String())
}

func TestRun_PromptOverrideRestored(t *testing.T) {
	sess := newFakeSession()
	s := &Script{Steps: []Step{{Send: "enable", Prompt: `#$`}}}

	var out bytes.Buffer
	require.NoError(t, s.Run(sess, &out, zap.NewNop()))
	assert.Equal(t, []string{`#$`, `\$`}, sess.prompts, "override then restore")
	assert.Equal(t, `\$`, sess.Prompt())
}

func TestRun_StopsOnFailure(t *testing.T) {
	sess := newFakeSession()
	sess.failOn = "bad"
	s := &Script{Steps: []Step{{Send: "bad"}, {Send: "never"}}}

	var out bytes.Buffer
	err := s.Run(sess, &out, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
	assert.Empty(t, sess.execed)
}

// --- Lua expect scripts ---

func writeLua(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.lua")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEngine_ExecAndEcho(t *testing.T) {
	sess := newFakeSession()
	sess.responses["uptime"] = []string{"up 3 days", "$"}

	var out bytes.Buffer
	engine := NewEngine(sess, &out, zap.NewNop(), 0)
	path := writeLua(t, `
local lines = exec("uptime")
echo(lines[1])
`)
	require.NoError(t, engine.RunFile(path))
	assert.Equal(t, []string{"uptime"}, sess.execed)
	assert.Equal(t, "up 3 days\n", out.String())
}

func TestEngine_SendAndSendline(t *testing.T) {
	sess := newFakeSession()
	var out bytes.Buffer
	engine := NewEngine(sess, &out, zap.NewNop(), 0)
	path := writeLua(t, `
send("raw")
sendline("quit")
`)
	require.NoError(t, engine.RunFile(path))
	assert.Equal(t, []string{"raw", "quit\r\n"}, sess.sent)
}

func TestEngine_ExpectRestoresPrompt(t *testing.T) {
	sess := newFakeSession()
	sess.waitLines = []string{"login:"}

	var out bytes.Buffer
	engine := NewEngine(sess, &out, zap.NewNop(), 0)
	path := writeLua(t, `
local lines = expect("login:")
echo(lines[1])
`)
	require.NoError(t, engine.RunFile(path))
	assert.Equal(t, []string{"login:", `\$`}, sess.prompts)
	assert.Equal(t, "login:\n", out.String())
}

func TestEngine_InstructionLimit(t *testing.T) {
	sess := newFakeSession()
	var out bytes.Buffer
	engine := NewEngine(sess, &out, zap.NewNop(), 1000)
	path := writeLua(t, `while true do end`)

	err := engine.RunFile(path)
	assert.Error(t, err, "runaway script must be cut off")
}

func TestEngine_SandboxRemovesDangerousGlobals(t *testing.T) {
	sess := newFakeSession()
	var out bytes.Buffer
	engine := NewEngine(sess, &out, zap.NewNop(), 0)
	path := writeLua(t, `
if dofile ~= nil then error("dofile leaked") end
if loadfile ~= nil then error("loadfile leaked") end
if require ~= nil then error("require leaked") end
`)
	assert.NoError(t, engine.RunFile(path))
}
