package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	mpv "github.com/agiangrant/mpvclient"
	"github.com/agiangrant/mpvclient/internal/fakempv"
	"github.com/agiangrant/mpvclient/internal/ffi"
)

// newGlobals returns flags that open a fake core configured by config. A fake
// core initialises once, so every command run needs its own globals.
func newGlobals(t *testing.T, config string) (*Globals, *bytes.Buffer) {
	t.Helper()
	native := ffi.NewPageAllocator()
	staging := ffi.NewPageAllocator()
	lib := fakempv.New(native)

	path := filepath.Join(t.TempDir(), "mpvctl.toml")
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	logs := &bytes.Buffer{}
	g := &Globals{
		ConfigPath: path,
		extra:      []mpv.Option{mpv.WithLibrary(lib), mpv.WithAllocator(staging)},
		stderr:     logs,
	}
	t.Cleanup(func() {
		lib.Close()
		if staging.Live() != 0 || native.Live() != 0 {
			t.Errorf("leaked blocks: staging %d, core %d", staging.Live(), native.Live())
		}
	})
	return g, logs
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// run executes the command built by newCmd on a fresh fake core.
func run(t *testing.T, config string, newCmd func(*Globals) *cobra.Command, args ...string) (out, logs string, err error) {
	t.Helper()
	g, buf := newGlobals(t, config)
	out, err = execute(newCmd(g), args...)
	return out, buf.String(), err
}

func TestGet(t *testing.T) {
	out, _, err := run(t, "", Get, "mpv-version", "volume")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	want := "mpv-version: mpv 0.39.0 (fake)\nvolume: 100\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	out, _, err = run(t, "", Get, "--json", "pause")
	if err != nil {
		t.Fatalf("get --json error = %v", err)
	}
	if out != "{\"pause\":false}\n" {
		t.Errorf("output = %q", out)
	}

	_, _, err = run(t, "", Get, "no-such-property")
	if !errors.Is(err, mpv.ErrPropertyNotFound) {
		t.Errorf("error = %v, want property not found", err)
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"volume", "40"}, "volume: 40\n"},
		{[]string{"pause", "true"}, "pause: true\n"},
		{[]string{"user-data/title", "movie night"}, "user-data/title: movie night\n"},
		{[]string{"user-data/tags", `["a", 1]`}, "user-data/tags: [\"a\", 1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			out, _, err := run(t, "", Set, tt.args...)
			if err != nil {
				t.Fatalf("set error = %v", err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}

	if _, _, err := run(t, "", Set, "volume", "loud"); !errors.Is(err, mpv.ErrPropertyFormat) {
		t.Errorf("error = %v, want property format error", err)
	}
}

func TestConfigOptions(t *testing.T) {
	out, _, err := run(t, "[options]\nspeed = 2.5\n", Get, "speed")
	if err != nil {
		t.Fatal(err)
	}
	if out != "speed: 2.5\n" {
		t.Errorf("output = %q", out)
	}

	_, _, err = run(t, "[log]\nformat = \"xml\"\n", Get, "speed")
	if err == nil || !strings.Contains(err.Error(), "xml") {
		t.Errorf("error = %v, want unknown log format", err)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"result", []string{"expand-text", "hello"}, "result: hello\n"},
		{"json", []string{"--json", "expand-text", "hello"}, "{\"result\":\"hello\"}\n"},
		{"no result", []string{"stop"}, "✓ stop\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := run(t, "", Command, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}

	if _, _, err := run(t, "", Command, "frobnicate"); !errors.Is(err, mpv.ErrInvalidParameter) {
		t.Errorf("error = %v, want invalid parameter", err)
	}
}

func TestWatch(t *testing.T) {
	out, logs, err := run(t, "[log]\nmpv_level = \"info\"\n", Watch, "--until", "file-loaded", "-p", "pause", "a.mkv")
	if err != nil {
		t.Fatalf("watch error = %v", err)
	}
	for _, want := range []string{"pause: false\n", "start-file entry 1\n", "file-loaded\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
	if !strings.Contains(logs, `msg="Playing: a.mkv"`) || !strings.Contains(logs, "prefix=cplayer") {
		t.Errorf("logs = %s", logs)
	}

	if _, _, err := run(t, "", Watch, "--until", "no-such-event"); err == nil {
		t.Error("unknown --until event accepted")
	}
}

func TestWatchUsesConfiguredProperties(t *testing.T) {
	out, _, err := run(t, "observe = [\"speed\"]\n", Watch, "--until", "property-change")
	if err != nil {
		t.Fatal(err)
	}
	if out != "speed: 1\n" {
		t.Errorf("output = %q", out)
	}
}

func TestScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeter.lua")
	src := `
		mp.register_event("file-loaded", function()
			mp.log("info", "loaded", mp.get_property("path"))
			mp.command("quit")
		end)
	`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	_, logs, err := run(t, "", Script, path, "a.mkv")
	if err != nil {
		t.Fatalf("script error = %v", err)
	}
	if !strings.Contains(logs, `msg="loaded a.mkv"`) || !strings.Contains(logs, "script=greeter") {
		t.Errorf("logs = %s", logs)
	}

	if _, _, err := run(t, "", Script, filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("missing script accepted")
	}
}

func TestVersion(t *testing.T) {
	info := BuildInfo{Version: "1.2.3", Commit: "abc", Date: "today"}

	out, err := execute(Version(info), "--short")
	if err != nil {
		t.Fatal(err)
	}
	if out != "1.2.3\n" {
		t.Errorf("output = %q", out)
	}

	out, _ = execute(Version(info))
	if !strings.Contains(out, "Commit:     abc") {
		t.Errorf("output = %q", out)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(mpv.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "n", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output %q is not one JSON record: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["level"] != "WARN" {
		t.Errorf("record = %v", rec)
	}

	if _, err := newLogger(mpv.LogConfig{Level: "chatty"}, &buf); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := newLogger(mpv.LogConfig{Format: "xml"}, &buf); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   mpv.LogLevel
		want slog.Level
	}{
		{mpv.LogLevelFatal, slog.LevelError},
		{mpv.LogLevelError, slog.LevelError},
		{mpv.LogLevelWarn, slog.LevelWarn},
		{mpv.LogLevelInfo, slog.LevelInfo},
		{mpv.LogLevelV, slog.LevelDebug},
		{mpv.LogLevelTrace, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want mpv.Node
	}{
		{"40", mpv.IntNode(40)},
		{"0.5", mpv.DoubleNode(0.5)},
		{"true", mpv.BoolNode(true)},
		{`"quoted"`, mpv.StringNode("quoted")},
		{"movie.mkv", mpv.StringNode("movie.mkv")},
		{"[1, \"x\"]", mpv.ArrayNode(mpv.IntNode(1), mpv.StringNode("x"))},
		{"{oops", mpv.StringNode("{oops")},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseValue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFail(t *testing.T) {
	var buf bytes.Buffer
	Fail(&buf, errors.New("no core"))
	if buf.String() != "Error: no core\n" {
		t.Errorf("output = %q", buf.String())
	}
}
