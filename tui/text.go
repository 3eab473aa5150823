package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"})
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"})
	boldStyle      = highlightStyle.Bold(true)
)

func Bold(text string) string {
	return boldStyle.Render(text)
}

func Muted(text string) string {
	return mutedStyle.Render(text)
}

// Command renders a cline-control invocation.
func Command(cmd string, args ...string) string {
	return highlightStyle.Render("cline-control " + strings.Join(append([]string{cmd}, args...), " "))
}

// KeyValues renders aligned "key: value" lines.
func KeyValues(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, Muted(p[0]+":"+strings.Repeat(" ", width-len(p[0])+1))+p[1])
	}
	return strings.Join(lines, "\n")
}
