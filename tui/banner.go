package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerBodyColor   = lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"}
	bannerBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	bannerTitleColor  = lipgloss.AdaptiveColor{Light: "#00AAAA", Dark: "#00FFFF"}
	bannerMaxWidth    = 72
	bannerStyle       = lipgloss.NewStyle().
				Padding(1).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(bannerBorderColor)
	bannerBodyStyle  = lipgloss.NewStyle().Width(bannerMaxWidth).Foreground(bannerBodyColor)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(bannerTitleColor)
)

// RenderBanner returns a bordered block with title above body.
func RenderBanner(title string, body string) string {
	return bannerStyle.Render(bannerTitleStyle.Render(title) + "\n\n" + bannerBodyStyle.Render(body))
}

// ShowBanner prints a banner when attached to a terminal.
func ShowBanner(title string, body string, clearScreen bool) {
	if !HasTTY {
		return
	}
	if clearScreen {
		ClearScreen()
	}
	fmt.Fprintln(Out, RenderBanner(title, body))
}
