// Package ui renders CLI output: colored status markers, group labels and
// key/value tables. Color is dropped automatically when stdout is not a
// terminal or NO_COLOR is set.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1d4ed8", Dark: "#60a5fa"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#15803d", Dark: "#4ade80"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#fbbf24"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#f87171"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"})
	boldStyle   = lipgloss.NewStyle().Bold(true)

	groupColors = map[string]lipgloss.Color{
		"platinum": "#a5b4fc",
		"gold":     "#facc15",
		"silver":   "#cbd5e1",
		"bronze":   "#d97706",
	}
)

func init() {
	if !ColorEnabled(os.Stdout) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ColorEnabled reports whether colored output should be written to f.
func ColorEnabled(f *os.File) bool {
	if termenv.EnvNoColor() {
		return false
	}
	return IsTerminal(f)
}

// DisableColor forces plain output for the rest of the process.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderGroup renders a group name in its medal color. Unknown groups are
// rendered bold. Surrounding padding is kept.
func RenderGroup(group string) string {
	c, ok := groupColors[strings.TrimSpace(group)]
	if !ok {
		return boldStyle.Render(group)
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c).Render(group)
}
