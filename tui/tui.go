// Package tui renders human-facing command output.
package tui

import (
	"io"
	"os"

	tm "github.com/buger/goterm"
	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())

	// Out receives everything this package prints.
	Out io.Writer = os.Stdout
)

// ClearScreen clears the screen and moves the cursor to the top left corner
func ClearScreen() {
	if !HasTTY {
		return
	}
	tm.Clear()
	tm.MoveCursor(1, 1)
	tm.Flush()
}
