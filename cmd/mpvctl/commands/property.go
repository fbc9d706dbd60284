package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	mpv "github.com/agiangrant/mpvclient"
)

// Get returns the get command.
func Get(g *Globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <property>...",
		Short: "Print property values",
		Long: `Print the value of one or more properties of a fresh core.

Examples:
  mpvctl get mpv-version
  mpvctl get volume speed --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			for _, name := range args {
				v, err := mpv.GetProperty[mpv.Node](s.client, name)
				if err != nil {
					return fmt.Errorf("get %s: %w", name, err)
				}
				if err := printValue(cmd.OutOrStdout(), name, v, asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print values as JSON")

	return cmd
}

// Set returns the set command.
func Set(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <property> <value>",
		Short: "Set a property and print the result",
		Long: `Set a property. The value is parsed as JSON when possible and
used as a string otherwise.

Examples:
  mpvctl set volume 40
  mpvctl set pause true
  mpvctl set user-data/tags '["a", "b"]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			name := args[0]
			if err := mpv.SetProperty(s.client, name, parseValue(args[1])); err != nil {
				return fmt.Errorf("set %s: %w", name, err)
			}
			v, err := mpv.GetProperty[mpv.Node](s.client, name)
			if err != nil {
				return fmt.Errorf("get %s: %w", name, err)
			}
			return printValue(cmd.OutOrStdout(), name, v, false)
		},
	}

	return cmd
}

// Command returns the command command.
func Command(g *Globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "command <name> [args]...",
		Short: "Run an mpv input command",
		Long: `Run an input command with string arguments and print its result,
if it has one.

Examples:
  mpvctl command expand-text '${mpv-version}'
  mpvctl command loadfile movie.mkv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			items := make([]mpv.Node, len(args))
			for i, a := range args {
				items[i] = mpv.StringNode(a)
			}
			res, err := s.client.CommandNode(mpv.ArrayNode(items...))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if res.IsNone() {
				success(cmd.OutOrStdout(), "%s", args[0])
				return nil
			}
			return printValue(cmd.OutOrStdout(), "result", res, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}
