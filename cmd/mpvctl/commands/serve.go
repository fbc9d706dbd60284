package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mpv "github.com/agiangrant/mpvclient"
	"github.com/agiangrant/mpvclient/remote"
)

// Serve returns the serve command.
func Serve(g *Globals) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve [file]",
		Short: "Serve the JSON IPC protocol over HTTP and WebSocket",
		Long: `Start a control server for the core. A file argument is loaded
first.

Routes:
  GET  /properties/{name}   read a property
  PUT  /properties/{name}   write a property from a JSON value
  POST /command             run one JSON IPC request
  GET  /ipc                 WebSocket speaking mpv's JSON IPC protocol
  GET  /metrics             Prometheus metrics (when enabled)

Examples:
  mpvctl serve
  mpvctl serve --listen 0.0.0.0:8765 movie.mkv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(true)
			if err != nil {
				return err
			}
			defer s.close()

			if listen == "" {
				listen = s.config.Remote.Listen
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(args) == 1 {
				if err := s.client.Command("loadfile", args[0]); err != nil {
					ln.Close()
					return fmt.Errorf("loadfile: %w", err)
				}
			}

			success(cmd.OutOrStdout(), "Listening on http://%s", ln.Addr())
			return serve(ctx, s, ln)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (default from the configuration)")

	return cmd
}

// serve runs the event loop and the HTTP server until ctx is done, the core
// shuts down or the listener fails.
func serve(ctx context.Context, s *session, ln net.Listener) error {
	rs := remote.New(s.client,
		remote.WithLogger(s.logger),
		remote.WithTracerName(s.config.Remote.TracerName),
	)
	if s.config.Metrics.Enabled {
		rs.Router().Handle("/metrics", promhttp.Handler())
	}
	srv := &http.Server{
		Handler:           rs,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.client.Listen(ctx, func(ev mpv.Event) error {
			logEvent(s.logger, ev)
			rs.Publish(ev)
			return nil
		})

		rs.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); err == nil {
			err = serr
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
