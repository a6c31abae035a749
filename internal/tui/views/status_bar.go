package views

import (
	"fmt"

	"github.com/rivo/tview"
)

// StatusBar displays the profile, connection state and transient messages.
type StatusBar struct {
	*tview.TextView
	profile string
	state   string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetFlash sets a transient message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	fmt.Fprintf(sb.TextView, " [yellow]%s[-] | %s", sb.profile, sb.state)
	if sb.flash != "" {
		fmt.Fprintf(sb.TextView, " | [red]%s[-]", sb.flash)
	}
}
