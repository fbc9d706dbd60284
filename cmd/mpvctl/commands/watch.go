package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	mpv "github.com/agiangrant/mpvclient"
)

// errDone stops an event loop without reporting a failure.
var errDone = errors.New("done")

// Watch returns the watch command.
func Watch(g *Globals) *cobra.Command {
	var (
		props []string
		until string
	)

	cmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Print events and property changes",
		Long: `Observe properties and print every event of the core until it shuts
down or mpvctl is interrupted. A file argument is loaded first.

Properties default to the observe list of the configuration.

Examples:
  mpvctl watch movie.mkv
  mpvctl watch -p time-pos -p pause movie.mkv
  mpvctl watch --until end-file movie.mkv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stopAt mpv.EventID
			if until != "" {
				id, ok := mpv.EventIDByName(until)
				if !ok {
					return fmt.Errorf("unknown event %q", until)
				}
				stopAt = id
			}

			s, err := g.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			if len(props) == 0 {
				props = s.config.Observe
			}
			for i, name := range props {
				if err := mpv.ObserveProperty[mpv.Node](s.client, uint64(i+1), name); err != nil {
					return fmt.Errorf("observe %s: %w", name, err)
				}
			}
			if len(args) == 1 {
				if err := s.client.Command("loadfile", args[0]); err != nil {
					return fmt.Errorf("loadfile: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()
			err = s.client.Listen(ctx, func(ev mpv.Event) error {
				if !logEvent(s.logger, ev) {
					if err := printEvent(w, ev); err != nil {
						return err
					}
				}
				if stopAt != mpv.EventNone && ev.ID == stopAt {
					return errDone
				}
				return nil
			})
			if errors.Is(err, errDone) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&props, "property", "p", nil, "Property to observe (repeatable)")
	cmd.Flags().StringVar(&until, "until", "", "Exit after the first event with this name")

	return cmd
}

// printEvent writes one line for ev while its payload is valid.
func printEvent(w io.Writer, ev mpv.Event) error {
	if p, ok := ev.Property(); ok {
		n, ok := p.Node()
		if !ok {
			_, err := fmt.Fprintf(w, "%s %s\n", paint(w, "36", p.Name+":"), "(unavailable)")
			return err
		}
		return printValue(w, p.Name, n, false)
	}

	var detail string
	if sf, ok := ev.StartFile(); ok {
		detail = fmt.Sprintf("entry %d", sf.PlaylistEntryID)
	}
	if ef, ok := ev.EndFile(); ok {
		detail = fmt.Sprintf("entry %d, %s", ef.PlaylistEntryID, ef.Reason)
		if ef.Err != nil {
			detail += ": " + ef.Err.Error()
		}
	}
	if cm, ok := ev.ClientMessage(); ok {
		detail = strings.Join(cm.Args, " ")
	}
	if h, ok := ev.Hook(); ok {
		detail = h.Name
	}
	if ev.Err != nil {
		detail = strings.TrimSpace(detail + " " + ev.Err.Error())
	}

	line := paint(w, "33", ev.ID.String())
	if detail != "" {
		line += " " + detail
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
