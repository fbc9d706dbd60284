// Package commands implements the mpvctl subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mpv "github.com/agiangrant/mpvclient"
)

// Globals holds the flags shared by every command.
type Globals struct {
	ConfigPath string
	LibPath    string

	// extra is appended to the client options; tests use it to swap in a
	// fake library.
	extra []mpv.Option
	// stderr receives log output. Default: os.Stderr.
	stderr io.Writer
}

// session is one initialised core plus the configuration it was built from.
type session struct {
	config mpv.Config
	logger *slog.Logger
	client *mpv.Client
}

// open loads the configuration, creates the core, applies the configured
// options and initialises it. Metrics are registered when withMetrics is set
// and the configuration enables them.
func (g *Globals) open(withMetrics bool) (*session, error) {
	config, err := mpv.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.LibPath != "" {
		config.Library.Path = g.LibPath
	}

	w := g.stderr
	if w == nil {
		w = os.Stderr
	}
	logger, err := newLogger(config.Log, w)
	if err != nil {
		return nil, err
	}

	opts := append(config.ClientOptions(), mpv.WithLogger(logger))
	if withMetrics && config.Metrics.Enabled {
		opts = append(opts, mpv.WithMetrics(mpv.NewMetrics(mpv.WithNamespace(config.Metrics.Namespace))))
	}
	opts = append(opts, g.extra...)

	client, err := mpv.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mpv core: %w", err)
	}
	if err := config.Apply(client); err != nil {
		client.TerminateDestroy()
		return nil, err
	}
	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("failed to initialize mpv core: %w", err)
	}
	if lvl := config.Log.MPVLevel; lvl != "" && lvl != "no" {
		if err := client.RequestLogMessages(lvl); err != nil {
			client.TerminateDestroy()
			return nil, fmt.Errorf("log level %q: %w", lvl, err)
		}
	}
	return &session{config: config, logger: logger, client: client}, nil
}

func (s *session) close() {
	s.client.TerminateDestroy()
}

// newLogger builds the host logger described by cfg.
func newLogger(cfg mpv.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

// slogLevel maps an mpv log level onto the host logger's levels.
func slogLevel(l mpv.LogLevel) slog.Level {
	switch {
	case l <= mpv.LogLevelError:
		return slog.LevelError
	case l <= mpv.LogLevelWarn:
		return slog.LevelWarn
	case l <= mpv.LogLevelInfo:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// logEvent re-emits log-message events through logger. It reports whether ev
// was one.
func logEvent(logger *slog.Logger, ev mpv.Event) bool {
	lm, ok := ev.LogMessage()
	if !ok {
		return false
	}
	logger.Log(context.Background(), slogLevel(lm.LogLevel), strings.TrimRight(lm.Text, "\n"),
		"prefix", lm.Prefix, "mpv_level", lm.Level)
	return true
}
