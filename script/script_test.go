package script

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	mpv "github.com/agiangrant/mpvclient"
	"github.com/agiangrant/mpvclient/internal/fakempv"
	"github.com/agiangrant/mpvclient/internal/ffi"
)

type testEnv struct {
	engine *Engine
	client *mpv.Client
	lib    *fakempv.Library
	logs   *bytes.Buffer
}

func newTestEngine(t *testing.T) testEnv {
	t.Helper()
	native := ffi.NewPageAllocator()
	staging := ffi.NewPageAllocator()
	lib := fakempv.New(native)

	c, err := mpv.New(
		mpv.WithLibrary(lib),
		mpv.WithAllocator(staging),
		mpv.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := New(c, WithLogger(logger))

	t.Cleanup(func() {
		e.Close()
		c.Close()
		lib.Close()
		if staging.Live() != 0 || native.Live() != 0 {
			t.Errorf("leaked blocks: staging %d, core %d", staging.Live(), native.Live())
		}
	})
	return testEnv{engine: e, client: c, lib: lib, logs: logs}
}

func (env testEnv) run(t *testing.T, src string) {
	t.Helper()
	if err := env.engine.DoString(src); err != nil {
		t.Fatalf("DoString error = %v", err)
	}
}

func (env testEnv) global(name string) lua.LValue {
	return env.engine.L.GetGlobal(name)
}

// dispatchUntil dispatches events until one with the given id was handled.
func (env testEnv) dispatchUntil(t *testing.T, id mpv.EventID) mpv.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := env.client.WaitEvent(100 * time.Millisecond)
		if ev.ID == mpv.EventNone {
			continue
		}
		if err := env.engine.Dispatch(ev); err != nil {
			t.Fatalf("Dispatch(%v) error = %v", ev, err)
		}
		if ev.ID == id {
			return ev
		}
	}
	t.Fatalf("no %v event within 2s", id)
	return mpv.Event{}
}

func TestPropertyFunctions(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		assert(mp.set_property("volume", "40"))
		vol = mp.get_property_number("volume")
		paused = mp.get_property_bool("pause")
		version = mp.get_property("mpv-version")
		missing, err = mp.get_property("no-such-property")
		fallback = mp.get_property("no-such-property", "default")
	`)

	if v := lua.LVAsNumber(env.global("vol")); v != 40 {
		t.Errorf("vol = %v, want 40", v)
	}
	if env.global("paused") != lua.LFalse {
		t.Errorf("paused = %v", env.global("paused"))
	}
	if !strings.HasPrefix(lua.LVAsString(env.global("version")), "mpv") {
		t.Errorf("version = %v", env.global("version"))
	}
	if env.global("missing") != lua.LNil {
		t.Errorf("missing = %v, want nil", env.global("missing"))
	}
	if !strings.Contains(lua.LVAsString(env.global("err")), "property not found") {
		t.Errorf("err = %v", env.global("err"))
	}
	if lua.LVAsString(env.global("fallback")) != "default" {
		t.Errorf("fallback = %v", env.global("fallback"))
	}
}

func TestNativeProperties(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		assert(mp.set_property_native("user-data/state", {a = 1, ratio = 0.5, list = {"x", "y"}, on = true}))
		local t = mp.get_property_native("user-data/state")
		assert(t.a == 1, "a")
		assert(t.ratio == 0.5, "ratio")
		assert(t.list[2] == "y", "list")
		assert(t.on == true, "on")
	`)

	n, err := mpv.GetProperty[mpv.Node](env.client, "user-data/state")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := n.Get("a")
	if i, ok := a.Int(); !ok || i != 1 {
		t.Errorf("a = %v, want int 1", a)
	}
	ratio, _ := n.Get("ratio")
	if f, ok := ratio.Double(); !ok || f != 0.5 {
		t.Errorf("ratio = %v", ratio)
	}
}

func TestCommands(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		assert(mp.command("set speed 2"))
		assert(mp.commandv("show-text", "from commandv"))
		expanded = mp.command_native({"expand-text", "hello"})
		bad, bad_err = mp.commandv("no-such-command")
	`)

	if v, _ := mpv.GetProperty[float64](env.client, "speed"); v != 2 {
		t.Errorf("speed = %v, want 2", v)
	}
	if env.lib.OSD() != "from commandv" {
		t.Errorf("OSD = %q", env.lib.OSD())
	}
	if lua.LVAsString(env.global("expanded")) != "hello" {
		t.Errorf("expanded = %v", env.global("expanded"))
	}
	if env.global("bad") != lua.LNil || lua.LVAsString(env.global("bad_err")) == "" {
		t.Errorf("bad = %v, %v", env.global("bad"), env.global("bad_err"))
	}

	env.run(t, `assert(mp.osd_message("osd", 2.5))`)
	if env.lib.OSD() != "osd" {
		t.Errorf("OSD = %q", env.lib.OSD())
	}
}

func TestObserveProperty(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		changes = 0
		function on_volume(name, value)
			changes = changes + 1
			last_name = name
			last_volume = value
		end
		assert(mp.observe_property("volume", "number", on_volume))
	`)

	ev := env.dispatchUntil(t, mpv.EventPropertyChange)
	if ev.ReplyUserdata != DefaultReplyBase {
		t.Errorf("reply = %d, want %d", ev.ReplyUserdata, DefaultReplyBase)
	}
	if lua.LVAsString(env.global("last_name")) != "volume" || lua.LVAsNumber(env.global("last_volume")) != 100 {
		t.Errorf("handler saw %v = %v", env.global("last_name"), env.global("last_volume"))
	}

	if err := mpv.SetProperty(env.client, "volume", 25.0); err != nil {
		t.Fatal(err)
	}
	env.dispatchUntil(t, mpv.EventPropertyChange)
	if lua.LVAsNumber(env.global("last_volume")) != 25 {
		t.Errorf("last_volume = %v, want 25", env.global("last_volume"))
	}

	env.run(t, `removed = mp.unobserve_property(on_volume)`)
	if env.global("removed") != lua.LTrue {
		t.Error("unobserve_property returned false")
	}
	if n := env.lib.Observers(env.client.Handle()); n != 0 {
		t.Errorf("%d observers left", n)
	}
}

func TestObserveNativeShortForm(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		mp.observe_property("pause", function(_, v) paused = v end)
	`)
	env.dispatchUntil(t, mpv.EventPropertyChange)
	if env.global("paused") != lua.LFalse {
		t.Errorf("paused = %v, want false", env.global("paused"))
	}
}

func TestScriptMessage(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		mp.register_script_message("greet", function(who, how) greeted = who .. " " .. how end)
	`)
	if err := env.client.Command("script-message", "greet", "bob", "warmly"); err != nil {
		t.Fatal(err)
	}
	env.dispatchUntil(t, mpv.EventClientMessage)
	if got := lua.LVAsString(env.global("greeted")); got != "bob warmly" {
		t.Errorf("greeted = %q", got)
	}
}

func TestRegisterEvent(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		events = {}
		mp.register_event("start-file", function(e) table.insert(events, e.event) end)
		mp.register_event("file-loaded", function(e) table.insert(events, e.event) end)
		ok, err = mp.register_event("no-such-event", function() end)
	`)
	if env.global("ok") != lua.LNil || env.global("err") == lua.LNil {
		t.Error("register_event accepted an unknown event")
	}

	if err := env.client.Command("loadfile", "a.mkv"); err != nil {
		t.Fatal(err)
	}
	env.dispatchUntil(t, mpv.EventFileLoaded)
	env.run(t, `
		assert(#events == 2, "count")
		assert(events[1] == "start-file", events[1])
		assert(events[2] == "file-loaded", events[2])
	`)
}

func TestHandlerError(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `mp.register_event("seek", function() error("boom") end)`)
	env.lib.Emit(env.client.Handle(), fakempv.EventSeek, 0, 0)

	var ev mpv.Event
	for ev.ID != mpv.EventSeek {
		ev = env.client.WaitEvent(time.Second)
	}
	err := env.engine.Dispatch(ev)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Dispatch error = %v, want the Lua error", err)
	}
}

func TestLog(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `
		mp.log("warn", "disk", "almost", "full")
		mp.log("trace", "details")
	`)
	out := env.logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, `msg="disk almost full"`) {
		t.Errorf("log output = %s", out)
	}
	if !strings.Contains(out, "msg=details") {
		t.Errorf("trace message missing: %s", out)
	}
	if err := env.engine.DoString(`mp.log("loud", "x")`); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestScriptName(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `name = mp.get_script_name()`)
	if lua.LVAsString(env.global("name")) != "main" {
		t.Errorf("name = %v", env.global("name"))
	}
}

func TestRunStopsAtShutdown(t *testing.T) {
	env := newTestEngine(t)
	env.run(t, `mp.register_event("shutdown", function() stopped = true end)`)
	if err := env.client.Command("quit"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.engine.Run(ctx); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if env.global("stopped") != lua.LTrue {
		t.Error("shutdown handler did not run")
	}
}

func TestConversion(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		node mpv.Node
	}{
		{"string", mpv.StringNode("s")},
		{"int", mpv.IntNode(-3)},
		{"double", mpv.DoubleNode(1.5)},
		{"bool", mpv.BoolNode(true)},
		{"none", mpv.None},
		{"array", mpv.ArrayNode(mpv.IntNode(1), mpv.StringNode("two"))},
		{"map", mpv.MapNode(map[string]mpv.Node{"k": mpv.ArrayNode(mpv.BoolNode(false))})},
		{"empty array", mpv.ArrayNode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			back, err := toNode(toLua(L, tt.node))
			if err != nil {
				t.Fatalf("toNode error = %v", err)
			}
			if !back.Equal(tt.node) {
				t.Errorf("round trip = %v, want %v", back, tt.node)
			}
		})
	}

	bytesNode := mpv.ByteArrayNode([]byte("raw"))
	if got := toLua(L, bytesNode); got != lua.LString("raw") {
		t.Errorf("byte array = %v", got)
	}

	mixed := L.NewTable()
	mixed.RawSetInt(1, lua.LString("a"))
	mixed.RawSetInt(5, lua.LString("b"))
	if _, err := toNode(mixed); err == nil {
		t.Error("table with non-string keys converted")
	}
}
