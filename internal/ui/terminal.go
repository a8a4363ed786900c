package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or 80 when it is not a terminal.
func Width(f *os.File) int {
	if !IsTerminal(f) {
		return 80
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// Row is one line of a key/value listing.
type Row struct {
	Key   string
	Value string
}

// WriteRows writes rows with keys padded to a common width.
func WriteRows(w io.Writer, rows []Row) {
	width := 0
	for _, r := range rows {
		if n := lipgloss.Width(r.Key); n > width {
			width = n
		}
	}
	for _, r := range rows {
		pad := strings.Repeat(" ", width-lipgloss.Width(r.Key))
		fmt.Fprintf(w, "   %s:%s %s\n", r.Key, pad, r.Value)
	}
}

// Truncate shortens s to at most n display cells, ending with "…".
func Truncate(s string, n int) string {
	if n <= 0 || lipgloss.Width(s) <= n {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > n {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
