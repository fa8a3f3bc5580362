package tui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a function that renders markdown using glamour.
// Outside a terminal the markdown is returned unchanged.
func NewRenderer(f *os.File) func(string) (string, error) {
	if !IsTerminal(f) {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
