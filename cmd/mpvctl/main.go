package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agiangrant/mpvclient/cmd/mpvctl/commands"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	g := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "mpvctl",
		Short: "Drive an embedded mpv core from the command line",
		Long: `mpvctl hosts an mpv core through libmpv and talks to it with the
client API.

Properties and options come from mpvctl.toml in the working directory
unless --config names another file. libmpv is searched in MPV_LIB_PATH
and the system library paths unless --lib is given.

Examples:
  mpvctl get mpv-version
  mpvctl set volume 40
  mpvctl watch movie.mkv -p time-pos
  mpvctl serve --listen 127.0.0.1:8765
  mpvctl script autoskip.lua movie.mkv`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.ConfigPath, "config", "c", "", "Configuration file (default mpvctl.toml)")
	rootCmd.PersistentFlags().StringVar(&g.LibPath, "lib", "", "Path to libmpv")

	rootCmd.AddCommand(
		commands.Get(g),
		commands.Set(g),
		commands.Command(g),
		commands.Watch(g),
		commands.Serve(g),
		commands.Script(g),
		commands.Version(commands.BuildInfo{Version: version, Commit: commit, Date: date}),
	)

	if err := rootCmd.Execute(); err != nil {
		commands.Fail(os.Stderr, err)
		os.Exit(1)
	}
}
