package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the guardrail ASCII art banner to w, colored for the
// terminal profile of w.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	lines := []struct {
		text  string
		color string
	}{
		{`   __ _ _  _ __ _ _ _ __| |_ _ __ _(_) |`, "#34d399"},
		{`  / _' | || / _' | '_/ _' | '_/ _' | | |`, "#2dd4bf"},
		{`  \__, |\_,_\__,_|_| \__,_|_| \__,_|_|_|`, "#22d3ee"},
		{`  |___/`, "#38bdf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}

// System styles a host message (errors, confirmations) for w.
func System(w io.Writer, msg string) string {
	out := termenv.NewOutput(w)
	return out.String(msg).Faint().String()
}
