package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	mpv "github.com/agiangrant/mpvclient"
)

// isTerminal reports whether w is a terminal that understands colour codes.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func paint(w io.Writer, code, s string) string {
	if !isTerminal(w) {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Fail prints err the way every mpvctl command reports failure.
func Fail(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", paint(w, "31", "Error:"), err)
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", paint(w, "32", "✓"), fmt.Sprintf(format, args...))
}

// formatValue renders n for humans: strings bare, everything else in mpv's
// node notation.
func formatValue(n mpv.Node) string {
	if s, ok := n.Str(); ok {
		return s
	}
	return n.String()
}

// printValue writes name and value as one line, or as a JSON object.
func printValue(w io.Writer, name string, n mpv.Node, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(map[string]mpv.Node{name: n})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s\n", paint(w, "36", name+":"), formatValue(n))
	return err
}

// parseValue reads a command line value as JSON and falls back to a plain
// string, so 40, true and [1,2] keep their types while "movie.mkv" need not
// be quoted.
func parseValue(s string) mpv.Node {
	var n mpv.Node
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return mpv.StringNode(s)
	}
	return n
}
