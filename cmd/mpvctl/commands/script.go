package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mpv "github.com/agiangrant/mpvclient"
	"github.com/agiangrant/mpvclient/script"
)

// Script returns the script command.
func Script(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script <file.lua> [file]",
		Short: "Run a Lua script against the core",
		Long: `Run a Lua script on its own client of the core. The script sees a
global table mp with the usual scripting functions. A media file
argument is loaded after the script has registered its handlers.

The client is named after the configuration (client.name) and is weak
when client.weak is set.

Examples:
  mpvctl script autoskip.lua movie.mkv`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runScript(ctx, s, args[0], args[1:])
		},
	}

	return cmd
}

// runScript runs path on a new client of s until the core shuts down or ctx
// is done. The events of the main client are drained into the log meanwhile.
func runScript(ctx context.Context, s *session, path string, media []string) error {
	create := s.client.CreateClient
	if s.config.Client.Weak {
		create = s.client.CreateWeakClient
	}
	sc, err := create(s.config.Client.Name)
	if err != nil {
		return fmt.Errorf("create script client: %w", err)
	}
	defer sc.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	e := script.New(sc, script.WithLogger(s.logger), script.WithName(name))
	defer e.Close()

	if err := e.DoFile(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, m := range media {
		if err := s.client.Command("loadfile", m); err != nil {
			return fmt.Errorf("loadfile: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.Run(ctx); err != nil {
			return err
		}
		return errDone
	})
	g.Go(func() error {
		return s.client.Listen(ctx, func(ev mpv.Event) error {
			logEvent(s.logger, ev)
			return nil
		})
	})

	err = g.Wait()
	if errors.Is(err, errDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
