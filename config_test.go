package mpv

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("LoadConfig = %+v, want defaults", cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpvctl.toml")
	data := `
observe = ["time-pos"]

[library]
path = "/opt/mpv/libmpv.so.2"

[client]
name = ""
weak = true

[options]
volume = 50
vo = "null"
speed = 1.25

[log]
mpv_level = "info"
format = "json"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if cfg.Library.Path != "/opt/mpv/libmpv.so.2" {
		t.Errorf("Library.Path = %q", cfg.Library.Path)
	}
	if cfg.Client.Name != "mpvctl" || !cfg.Client.Weak {
		t.Errorf("Client = %+v", cfg.Client)
	}
	if !reflect.DeepEqual(cfg.Observe, []string{"time-pos"}) {
		t.Errorf("Observe = %v", cfg.Observe)
	}
	if cfg.Log.MPVLevel != "info" || cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Remote.Listen != "127.0.0.1:8765" {
		t.Errorf("Remote.Listen = %q, want the default", cfg.Remote.Listen)
	}
	if len(cfg.Options) != 3 {
		t.Errorf("Options = %v", cfg.Options)
	}
	if len(cfg.ClientOptions()) != 1 {
		t.Errorf("ClientOptions has %d entries, want 1", len(cfg.ClientOptions()))
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[client\nname="), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted malformed TOML")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	cfg := DefaultConfig()
	cfg.Observe = []string{"pause"}
	cfg.Remote.Listen = ":9000"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig error = %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestConfigApply(t *testing.T) {
	env := newTestClient(t)
	cfg := DefaultConfig()
	cfg.Options = map[string]any{
		"volume":          int64(50),
		"user-data/vo":    "null",
		"user-data/tags":  []any{"a", "b"},
		"user-data/speed": 1.25,
	}
	if err := cfg.Apply(env.client); err != nil {
		t.Fatalf("Apply error = %v", err)
	}

	if v, err := GetProperty[float64](env.client, "volume"); err != nil || v != 50 {
		t.Errorf("volume = %v, %v", v, err)
	}
	if s, err := GetProperty[string](env.client, "user-data/vo"); err != nil || s != "null" {
		t.Errorf("vo = %q, %v", s, err)
	}
	tags, err := GetProperty[Node](env.client, "user-data/tags")
	if err != nil || !tags.Equal(ArrayNode(StringNode("a"), StringNode("b"))) {
		t.Errorf("tags = %v, %v", tags, err)
	}

	cfg.Options = map[string]any{"bad": struct{}{}}
	if err := cfg.Apply(env.client); err == nil {
		t.Error("Apply accepted an unrepresentable option")
	}
}
