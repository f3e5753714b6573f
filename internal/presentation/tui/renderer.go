package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders bot markdown using glamour.
// An empty style detects light or dark backgrounds; otherwise it names a
// glamour standard style such as "dark", "light" or "notty".
func NewRenderer(style string) (func(string) (string, error), error) {
	opt := glamour.WithAutoStyle()
	if style != "" {
		opt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(0))
	if err != nil {
		return nil, err
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}, nil
}
