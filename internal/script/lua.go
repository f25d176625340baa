package script

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// script execution when no override is configured.
const DefaultInstructionLimit = 1_000_000

// countingContext is a context.Context that cancels itself after Done() has
// been called limit times. GopherLua's main loop calls Done() once per
// opcode, making this an exact instruction-count limit.
type countingContext struct {
	context.Context
	cancel    context.CancelFunc
	remaining *atomic.Int64
}

// Done returns the underlying cancellation channel. Each call decrements the
// remaining counter; when it reaches zero the cancel function fires,
// terminating the Lua VM on the next opcode boundary.
func (c *countingContext) Done() <-chan struct{} {
	if c.remaining.Add(-1) <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

// newCountingContext returns a context that cancels after limit calls to Done().
// Precondition: limit > 0; panics if limit <= 0.
func newCountingContext(limit int) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		panic("newCountingContext: limit must be > 0")
	}
	base, cancel := context.WithCancel(context.Background())
	rem := &atomic.Int64{}
	rem.Store(int64(limit))
	return &countingContext{
		Context:   base,
		cancel:    cancel,
		remaining: rem,
	}, cancel
}

// Engine executes expect-style Lua scripts against a session. The Lua state
// is sandboxed: only base, table, string, and math are loaded, dangerous
// globals are removed, and execution is capped at an opcode limit.
type Engine struct {
	sess   Session
	out    io.Writer
	logger *zap.Logger
	limit  int
}

// NewEngine creates an Engine bound to a connected session.
//
// Precondition: sess, out, and logger must be non-nil; instLimit >= 0
// (0 uses DefaultInstructionLimit).
func NewEngine(sess Session, out io.Writer, logger *zap.Logger, instLimit int) *Engine {
	limit := instLimit
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	return &Engine{
		sess:   sess,
		out:    out,
		logger: logger,
		limit:  limit,
	}
}

// RunFile executes the Lua script at path.
//
// Postcondition: Returns the first uncaught script or session error; session
// errors are raised as Lua errors, so a script may catch them with pcall.
func (e *Engine) RunFile(path string) error {
	L, cancel := e.newState()
	defer cancel()
	defer L.Close()

	e.logger.Debug("running lua script",
		zap.String("path", path),
		zap.Int("instruction_limit", e.limit),
	)
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("lua script %q: %w", path, err)
	}
	return nil
}

// newState builds the sandboxed LState with the session API registered.
func (e *Engine) newState() (*lua.LState, context.CancelFunc) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	// Open only safe standard libraries.
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Strip dangerous globals left by OpenBase.
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring",
		"collectgarbage", "require",
		"module", "newproxy",
		"setfenv", "getfenv",
		"_printregs",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	e.register(L)

	ctx, cancel := newCountingContext(e.limit)
	L.SetContext(ctx)

	return L, cancel
}

// register installs the session API as Lua globals: send, sendline, exec,
// expect, sleep, echo.
func (e *Engine) register(L *lua.LState) {
	L.SetGlobal("send", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		if err := e.sess.SendCommand(text, false); err != nil {
			L.RaiseError("send: %v", err)
		}
		return 0
	}))

	L.SetGlobal("sendline", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		if err := e.sess.SendCommand(text, true); err != nil {
			L.RaiseError("sendline: %v", err)
		}
		return 0
	}))

	L.SetGlobal("exec", L.NewFunction(func(L *lua.LState) int {
		cmd := L.CheckString(1)
		lines, err := e.sess.Exec(cmd)
		if err != nil {
			L.RaiseError("exec %q: %v", cmd, err)
		}
		L.Push(linesToTable(L, lines))
		return 1
	}))

	L.SetGlobal("expect", L.NewFunction(func(L *lua.LState) int {
		pattern := L.CheckString(1)
		saved := e.sess.Prompt()
		if err := e.sess.SetRegexPrompt(pattern); err != nil {
			L.RaiseError("expect %q: %v", pattern, err)
		}
		lines, err := e.sess.WaitPrompt(false)
		restoreErr := e.sess.SetRegexPrompt(saved)
		if err != nil {
			L.RaiseError("expect %q: %v", pattern, err)
		}
		if restoreErr != nil {
			L.RaiseError("expect %q: restoring prompt: %v", pattern, restoreErr)
		}
		L.Push(linesToTable(L, lines))
		return 1
	}))

	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckInt(1)
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		return 0
	}))

	L.SetGlobal("echo", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		fmt.Fprintln(e.out, text)
		return 0
	}))
}

func linesToTable(L *lua.LState, lines []string) *lua.LTable {
	t := L.NewTable()
	for _, line := range lines {
		t.Append(lua.LString(line))
	}
	return t
}
