// Package script runs Lua scripts against an mpv client.
//
// Scripts see a global table mp with a subset of the functions mpv offers its
// own Lua scripts: commands, property access, observation, event and
// script-message handlers, OSD messages and logging. Handlers run when the
// host passes events to Engine.Dispatch, usually from Client.Listen.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	mpv "github.com/agiangrant/mpvclient"
)

// DefaultReplyBase is the first reply id used for observations. It keeps
// script observations apart from ids the host uses on the same client.
const DefaultReplyBase uint64 = 1 << 48

// Engine is one Lua state bound to a client. Its methods are safe for
// concurrent use; Lua code itself always runs on one goroutine at a time.
type Engine struct {
	client *mpv.Client
	logger *slog.Logger
	name   string

	mu        sync.Mutex
	L         *lua.LState
	events    map[mpv.EventID][]*lua.LFunction
	messages  map[string][]*lua.LFunction
	observers map[uint64]observer
	nextReply uint64
}

type observer struct {
	name string
	fn   *lua.LFunction
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger mp.log writes to. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithReplyBase sets the first reply id used by mp.observe_property.
func WithReplyBase(base uint64) Option {
	return func(e *Engine) {
		e.nextReply = base
	}
}

// WithName sets the name returned by mp.get_script_name. Default: the
// client name.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// New creates a Lua state with the mp table installed.
func New(client *mpv.Client, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		events:    make(map[mpv.EventID][]*lua.LFunction),
		messages:  make(map[string][]*lua.LFunction),
		observers: make(map[uint64]observer),
		nextReply: DefaultReplyBase,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.name == "" {
		e.name = client.Name()
	}
	e.L = lua.NewState()
	e.install()
	return e
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
}

// DoString runs a chunk of Lua code.
func (e *Engine) DoString(src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.L.DoString(src)
}

// DoFile runs the script at path.
func (e *Engine) DoFile(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.L.DoFile(path)
}

// Run passes every event of the client to Dispatch until ctx is done or the
// core shuts down. Handler errors are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	return e.client.Listen(ctx, func(ev mpv.Event) error {
		if err := e.Dispatch(ev); err != nil {
			e.logger.Error("lua handler failed", "event", ev.String(), "error", err)
		}
		return nil
	})
}

// Dispatch calls the Lua handlers registered for ev. It must be called before
// the next WaitEvent on the client, while the payload is valid.
func (e *Engine) Dispatch(ev mpv.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	call := func(fn *lua.LFunction, args ...lua.LValue) {
		if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
			errs = append(errs, err)
		}
	}

	switch ev.ID {
	case mpv.EventPropertyChange:
		if o, ok := e.observers[ev.ReplyUserdata]; ok {
			value := lua.LValue(lua.LNil)
			if p, ok := ev.Property(); ok {
				if n, ok := p.Node(); ok {
					value = toLua(e.L, n)
				}
			}
			call(o.fn, lua.LString(o.name), value)
		}
	case mpv.EventClientMessage:
		if msg, ok := ev.ClientMessage(); ok && len(msg.Args) > 0 {
			args := make([]lua.LValue, 0, len(msg.Args)-1)
			for _, a := range msg.Args[1:] {
				args = append(args, lua.LString(a))
			}
			for _, fn := range e.messages[msg.Args[0]] {
				call(fn, args...)
			}
		}
	}

	if handlers := e.events[ev.ID]; len(handlers) > 0 {
		t := e.L.NewTable()
		t.RawSetString("event", lua.LString(ev.ID.String()))
		if ev.Err != nil {
			t.RawSetString("error", lua.LString(ev.Err.Error()))
		}
		if ev.ReplyUserdata != 0 {
			t.RawSetString("id", lua.LNumber(ev.ReplyUserdata))
		}
		for _, fn := range handlers {
			call(fn, t)
		}
	}
	return errors.Join(errs...)
}

// ============================================================================
// mp table
// ============================================================================

func (e *Engine) install() {
	mp := e.L.SetFuncs(e.L.NewTable(), map[string]lua.LGFunction{
		"command":                 e.command,
		"commandv":                e.commandv,
		"command_native":          e.commandNative,
		"get_property":            e.getProperty,
		"get_property_number":     e.getPropertyNumber,
		"get_property_bool":       e.getPropertyBool,
		"get_property_native":     e.getPropertyNative,
		"set_property":            e.setProperty,
		"set_property_native":     e.setPropertyNative,
		"osd_message":             e.osdMessage,
		"observe_property":        e.observeProperty,
		"unobserve_property":      e.unobserveProperty,
		"register_event":          e.registerEvent,
		"register_script_message": e.registerScriptMessage,
		"get_script_name":         e.getScriptName,
		"log":                     e.log,
	})
	e.L.SetGlobal("mp", mp)
}

// fail pushes the nil, message pair mpv's Lua functions return on error.
func fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func done(L *lua.LState) int {
	L.Push(lua.LTrue)
	return 1
}

// command runs a command line such as "seek 10 relative".
func (e *Engine) command(L *lua.LState) int {
	args := strings.Fields(L.CheckString(1))
	if err := e.client.Command(args...); err != nil {
		return fail(L, err)
	}
	return done(L)
}

func (e *Engine) commandv(L *lua.LState) int {
	if err := e.client.Command(stringArgs(L, 1)...); err != nil {
		return fail(L, err)
	}
	return done(L)
}

func (e *Engine) commandNative(L *lua.LState) int {
	args, err := toNode(L.CheckTable(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	res, err := e.client.CommandNode(args)
	if err != nil {
		if L.GetTop() >= 2 {
			L.Push(L.Get(2))
			L.Push(lua.LString(err.Error()))
			return 2
		}
		return fail(L, err)
	}
	L.Push(toLua(L, res))
	return 1
}

// getter returns a Lua function reading a property as T and converting it.
// The optional second argument is returned when the read fails.
func getter[T mpv.Value](e *Engine, convert func(L *lua.LState, v T) lua.LValue) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		v, err := mpv.GetProperty[T](e.client, name)
		if err != nil {
			if L.GetTop() >= 2 {
				L.Push(L.Get(2))
				L.Push(lua.LString(err.Error()))
				return 2
			}
			return fail(L, err)
		}
		L.Push(convert(L, v))
		return 1
	}
}

func (e *Engine) getProperty(L *lua.LState) int {
	return getter(e, func(_ *lua.LState, s string) lua.LValue { return lua.LString(s) })(L)
}

func (e *Engine) getPropertyNumber(L *lua.LState) int {
	return getter(e, func(_ *lua.LState, f float64) lua.LValue { return lua.LNumber(f) })(L)
}

func (e *Engine) getPropertyBool(L *lua.LState) int {
	return getter(e, func(_ *lua.LState, b bool) lua.LValue { return lua.LBool(b) })(L)
}

func (e *Engine) getPropertyNative(L *lua.LState) int {
	return getter(e, toLua)(L)
}

func (e *Engine) setProperty(L *lua.LState) int {
	name := L.CheckString(1)
	value := L.ToStringMeta(L.CheckAny(2)).String()
	if err := mpv.SetProperty(e.client, name, value); err != nil {
		return fail(L, err)
	}
	return done(L)
}

func (e *Engine) setPropertyNative(L *lua.LState) int {
	name := L.CheckString(1)
	n, err := toNode(L.CheckAny(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	if err := mpv.SetProperty(e.client, name, n); err != nil {
		return fail(L, err)
	}
	return done(L)
}

// osdMessage shows text for the given number of seconds, one by default.
func (e *Engine) osdMessage(L *lua.LState) int {
	text := L.ToStringMeta(L.CheckAny(1)).String()
	secs := float64(L.OptNumber(2, 1))
	if err := e.client.OSDMessage(text, time.Duration(secs*float64(time.Second))); err != nil {
		return fail(L, err)
	}
	return done(L)
}

var observeFormats = map[string]mpv.Format{
	"native": mpv.FormatNode,
	"string": mpv.FormatString,
	"number": mpv.FormatDouble,
	"bool":   mpv.FormatFlag,
}

// observeProperty accepts (name, fn) or mpv's (name, type, fn) form. A nil
// type observes the native value.
func (e *Engine) observeProperty(L *lua.LState) int {
	name := L.CheckString(1)
	format := mpv.FormatNode
	fnArg := 2
	if L.Get(2).Type() != lua.LTFunction {
		f, ok := observeFormats[L.OptString(2, "native")]
		if !ok {
			L.ArgError(2, "unknown property type")
			return 0
		}
		format = f
		fnArg = 3
	}
	fn := L.CheckFunction(fnArg)

	reply := e.nextReply
	var err error
	switch format {
	case mpv.FormatString:
		err = mpv.ObserveProperty[string](e.client, reply, name)
	case mpv.FormatDouble:
		err = mpv.ObserveProperty[float64](e.client, reply, name)
	case mpv.FormatFlag:
		err = mpv.ObserveProperty[bool](e.client, reply, name)
	default:
		err = mpv.ObserveProperty[mpv.Node](e.client, reply, name)
	}
	if err != nil {
		return fail(L, err)
	}
	e.nextReply++
	e.observers[reply] = observer{name: name, fn: fn}
	return done(L)
}

// unobserveProperty removes every observation that calls fn.
func (e *Engine) unobserveProperty(L *lua.LState) int {
	fn := L.CheckFunction(1)
	removed := false
	for reply, o := range e.observers {
		if o.fn != fn {
			continue
		}
		if err := e.client.UnobserveProperty(reply); err != nil {
			return fail(L, err)
		}
		delete(e.observers, reply)
		removed = true
	}
	L.Push(lua.LBool(removed))
	return 1
}

func (e *Engine) registerEvent(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	id, ok := mpv.EventIDByName(name)
	if !ok || id == mpv.EventNone {
		return fail(L, fmt.Errorf("unknown event %q", name))
	}
	e.events[id] = append(e.events[id], fn)
	L.Push(lua.LTrue)
	return 1
}

func (e *Engine) registerScriptMessage(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	e.messages[name] = append(e.messages[name], fn)
	return 0
}

func (e *Engine) getScriptName(L *lua.LState) int {
	L.Push(lua.LString(e.name))
	return 1
}

var logLevels = map[string]slog.Level{
	"fatal": slog.LevelError,
	"error": slog.LevelError,
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"v":     slog.LevelDebug,
	"debug": slog.LevelDebug,
	"trace": slog.LevelDebug,
}

// log writes the remaining arguments, joined by spaces, at the mpv level
// given first.
func (e *Engine) log(L *lua.LState) int {
	level := L.CheckString(1)
	lv, ok := logLevels[level]
	if !ok {
		L.ArgError(1, "unknown log level")
		return 0
	}
	e.logger.Log(context.Background(), lv, strings.Join(stringArgs(L, 2), " "), "script", e.name, "mpv_level", level)
	return 0
}
