package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	messageOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"})
	messageTextStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"})
	messageWarningStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"})
)

func ShowSuccess(msg string, args ...any) {
	fmt.Fprintln(Out, messageOKStyle.Render(" ✓ ")+messageTextStyle.Render(fmt.Sprintf(msg, args...)))
}

func ShowWarning(msg string, args ...any) {
	fmt.Fprintln(Out, messageWarningStyle.Render(" ✕ ")+messageTextStyle.Render(fmt.Sprintf(msg, args...)))
}

func ShowError(msg string, args ...any) {
	fmt.Fprintln(Out, messageWarningStyle.Render(" ⚠ ")+messageTextStyle.Render(fmt.Sprintf(msg, args...)))
}

// Ask asks a yes/no question. Without a terminal it returns defaultValue.
func Ask(title string, defaultValue bool) (bool, error) {
	if !HasTTY {
		return defaultValue, nil
	}
	confirm := defaultValue
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run(); err != nil {
		return defaultValue, err
	}
	return confirm, nil
}
