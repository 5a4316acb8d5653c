package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates a string to a fixed display width.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "...")
	}
	return str + strings.Repeat(" ", width-w)
}

// ShortHash abbreviates a hex digest for display.
func ShortHash(hash string) string {
	if hash == "" {
		return "-"
	}
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
