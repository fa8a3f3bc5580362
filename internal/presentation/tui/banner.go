package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the journey banner with the version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"      _", "#818cf8"},
		{"     | | ___  _   _ _ __ _ __   ___ _   _", "#a78bfa"},
		{"  _  | |/ _ \\| | | | '__| '_ \\ / _ \\ | | |", "#c084fc"},
		{" | |_| | (_) | |_| | |  | | | |  __/ |_| |", "#e879f9"},
		{"  \\___/ \\___/ \\__,_|_|  |_| |_|\\___|\\__, |", "#f472b6"},
		{"                                    |___/", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
