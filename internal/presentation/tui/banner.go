package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the droidscout banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text, color string
	}{
		{`     _           _     _                     _   `, "#34d399"},
		{`  __| |_ __ ___ (_) __| |___  ___ ___  _   _| |_ `, "#2dd4bf"},
		{` / _' | '__/ _ \| |/ _' / __|/ __/ _ \| | | | __|`, "#22d3ee"},
		{`| (_| | | | (_) | | (_| \__ \ (_| (_) | |_| | |_ `, "#38bdf8"},
		{` \__,_|_|  \___/|_|\__,_|___/\___\___/ \__,_|\__|`, "#60a5fa"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
