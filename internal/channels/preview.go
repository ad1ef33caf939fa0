package channels

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// PreviewWidth is the display width used for log previews.
const PreviewWidth = 60

// Preview flattens text to one line and truncates it to width terminal
// cells, so wide (CJK, emoji) runes are counted correctly.
func Preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if width <= 0 {
		return text
	}
	return runewidth.Truncate(text, width, "…")
}

// PadRight pads s with spaces to width terminal cells.
func PadRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}
