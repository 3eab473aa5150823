package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner runs action behind a spinner when attached to a terminal.
func ShowSpinner(ctx context.Context, title string, action func() error) error {
	if !HasTTY {
		return action()
	}
	var actionErr error
	if err := spinner.New().
		Context(ctx).
		Title(title).
		Action(func() { actionErr = action() }).
		Run(); err != nil {
		return err
	}
	return actionErr
}
