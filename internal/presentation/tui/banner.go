package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	` _               _   _                 `,
	`| |__   __ _ ___| |_| |__   ___  _ __  `,
	`| '_ \ / _' / __| __| '_ \ / _ \| '_ \ `,
	`| |_) | (_| \__ \ |_| | | | (_) | | | |`,
	`|_.__/ \__,_|___/\__|_| |_|\___/|_| |_|`,
}

var bannerColors = []string{"#38bdf8", "#22d3ee", "#2dd4bf", "#34d399", "#4ade80"}

// PrintBanner writes the REPL banner and version line to w. Colors are
// dropped when w is not a terminal.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, out.String(line).Foreground(out.Color(bannerColors[i])))
	}
	fmt.Fprintf(w, "\n%s\n\n", out.String(fmt.Sprintf("basthon %s | exit or Ctrl+D to quit, %%restart to reset", strings.TrimSpace(version))).Faint())
}
